package minfs

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DeviceNode is one entry of the /dev table.
type DeviceNode struct {
	Name  string
	Type  byte // 'c' or 'b'
	Major uint32
	Minor uint32
	Mode  os.FileMode
}

func (d DeviceNode) unixMode() uint32 {
	m := uint32(d.Mode.Perm())
	if d.Type == 'b' {
		return m | unix.S_IFBLK
	}
	return m | unix.S_IFCHR
}

// deviceTable is the fixed set of nodes every image carries.
var deviceTable = func() []DeviceNode {
	devs := []DeviceNode{
		{Name: "console", Type: 'c', Major: 5, Minor: 1},
		{Name: "null", Type: 'c', Major: 1, Minor: 3},
		{Name: "fb0", Type: 'c', Major: 29, Minor: 0},
		{Name: "fbcondecor", Type: 'c', Major: 10, Minor: 63},
	}
	for i := uint32(0); i <= 16; i++ {
		devs = append(devs, DeviceNode{Name: fmt.Sprintf("ram%d", i), Type: 'b', Major: 1, Minor: i})
	}
	devs = append(devs,
		DeviceNode{Name: "rtc", Type: 'c', Major: 10, Minor: 135},
		DeviceNode{Name: "sda1", Type: 'b', Major: 8, Minor: 1},
		DeviceNode{Name: "timer", Type: 'c', Major: 116, Minor: 33},
		DeviceNode{Name: "tty", Type: 'c', Major: 5, Minor: 0},
		DeviceNode{Name: "tty0", Type: 'c', Major: 4, Minor: 0},
		DeviceNode{Name: "tty1", Type: 'c', Major: 4, Minor: 1},
		DeviceNode{Name: "tty2", Type: 'c', Major: 4, Minor: 2},
		DeviceNode{Name: "tty10", Type: 'c', Major: 4, Minor: 10},
		DeviceNode{Name: "tty16", Type: 'c', Major: 4, Minor: 16},
	)
	for i := range devs {
		devs[i].Mode = 0o660
	}
	return devs
}()

// makeDevices creates the device table under dev. Nodes that cannot be
// created (no CAP_MKNOD and no privileged executor) are returned so the
// archiver can write them into the image directly.
func makeDevices(dev string, privileged *Executor) ([]DeviceNode, error) {
	if err := os.MkdirAll(dev, 0o755); err != nil {
		return nil, err
	}
	var pending []DeviceNode
	for _, d := range deviceTable {
		p := filepath.Join(dev, d.Name)
		os.Remove(p)
		err := unix.Mknod(p, d.unixMode(), int(unix.Mkdev(d.Major, d.Minor)))
		if err == nil {
			continue
		}
		if privileged != nil && privileged.ShouldRunAsRoot {
			cmd := exec.Command("mknod", "-m", fmt.Sprintf("%o", d.Mode.Perm()), p,
				string(d.Type), fmt.Sprint(d.Major), fmt.Sprint(d.Minor))
			perr := privileged.Run(cmd)
			if perr == nil {
				continue
			}
			debugf("privileged mknod %s failed: %v\n", p, perr)
		}
		debugf("mknod %s: %v, deferring to the archiver\n", p, err)
		pending = append(pending, d)
	}

	ram := filepath.Join(dev, "ram")
	os.Remove(ram)
	if err := os.Symlink("ram1", ram); err != nil {
		return pending, fmt.Errorf("link %s: %w", ram, err)
	}
	return pending, nil
}
