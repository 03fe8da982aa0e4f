package main

import "minfs/internal/minfs"

func main() {
	minfs.Main()
}
