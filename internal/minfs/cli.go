package minfs

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: minfs <command> [arguments]")
	colSuccess.Println("Run 'minfs <command> -h' for command options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"closure, c", "[-i init] [-t root] <cmd...>", "Print the files the commands need"},
		{"locate, l", "[-t root] <cmd...>", "Show the installed binary and owning package"},
		{"build, b", "[-i init] [-t root] [-o dir] [-f format] [-n name] [-strip] [-keep] [-sudo] <cmd...>", "Build a root filesystem image"},
		{"inspect", "<image>", "List the entries of an image"},
		{"chroot", "<dir> [cmd]", "Run a command inside an assembled tree (default: /bin/sh)"},
		{"publish", "[-l] <image>", "Upload an image and its checksum to S3"},
		{"version, --version", "", "Version information"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		maxLen = max(maxLen, length)
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		usage := "  " + c.Cmd
		if c.Args != "" {
			usage += " " + c.Args
		}
		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}
		fmt.Print(strings.Repeat(" ", max(columnWidth-len(usage), 1)))
		color.Info.Println(c.Desc)
	}
	fmt.Println()
	color.Info.Println("Init types: busybox (default), sysv, none")
	color.Info.Printf("Image formats: %s\n", strings.Join(formatNames(), ", "))
}

func formatNames() []string {
	return []string{"cpio", "cpio.gz", "cpio.xz", "cpio.zst", "tar", "tar.gz", "tar.xz", "tar.zst", "oci"}
}

// commonFlags are shared by the commands that compute a closure. Set flags
// override the configuration file and environment.
type commonFlags struct {
	root     *string
	initType *string
	debug    *bool
}

func addCommonFlags(fs *flag.FlagSet, withInit bool) *commonFlags {
	f := &commonFlags{
		root:  fs.String("t", "", "target root to search (MINFS_ROOT)"),
		debug: fs.Bool("debug", false, "print debug output"),
	}
	if withInit {
		f.initType = fs.String("i", "", "init type: busybox, sysv or none/no (MINFS_INIT)")
	}
	return f
}

func (f *commonFlags) apply(cfg *Config) {
	if *f.root != "" {
		cfg.Values["MINFS_ROOT"] = *f.root
	}
	if f.initType != nil && *f.initType != "" {
		cfg.Values["MINFS_INIT"] = *f.initType
	}
	if *f.debug {
		cfg.Values["MINFS_DEBUG"] = "1"
	}
}

// Main is the CLI entrypoint for cmd/minfs.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			colArrow.Print("\n-> ")
			color.Danger.Printf("Received %v. Stopping after the current command\n", sig)
			cancel()
			select {
			case <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Println("Second interrupt received. Forcing immediate exit.")
				os.Exit(130)
			case <-time.After(10 * time.Second):
				os.Exit(130)
			}
		case <-ctx.Done():
		}
	}()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.Enable = false
	}

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	cfg, err := loadConfig(ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	var exitCode int
	switch os.Args[1] {
	case "closure", "c":
		exitCode = runClosureCommand(ctx, cfg, os.Args[2:])
	case "locate", "l":
		exitCode = runLocateCommand(ctx, cfg, os.Args[2:])
	case "build", "b":
		exitCode = runBuildCommand(ctx, cfg, os.Args[2:])
	case "inspect":
		exitCode = runInspectCommand(os.Args[2:])
	case "chroot":
		if len(os.Args) < 3 {
			fmt.Println("Usage: minfs chroot <dir> [command...]")
			os.Exit(1)
		}
		exitCode = runChroot(os.Args[2], os.Args[3:], &Executor{Context: ctx, ShouldRunAsRoot: true})
	case "publish":
		exitCode = runPublishCommand(ctx, cfg, os.Args[2:])
	case "version", "--version":
		colNote.Printf("minfs %s (%s) built %s\n", version, arch, buildDate)
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printHelp()
		exitCode = 1
	}
	os.Exit(exitCode)
}

// settingsFrom parses args into fs, applies flag overrides to cfg and
// returns the resulting settings.
func settingsFrom(cfg *Config, fs *flag.FlagSet, f *commonFlags, args []string) (*Settings, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.apply(cfg)
	return initConfig(cfg)
}

func runClosureCommand(ctx context.Context, cfg *Config, args []string) int {
	fs := flag.NewFlagSet("closure", flag.ExitOnError)
	f := addCommonFlags(fs, true)
	noBaseline := fs.Bool("no-baseline", false, "do not add the baseline toolset of the init type")
	s, err := settingsFrom(cfg, fs, f, args)
	if err != nil {
		cPrintf(colError, "Error: %v\n", err)
		return 1
	}
	if fs.NArg() == 0 && *noBaseline {
		fmt.Println("Usage: minfs closure [-i init] [-t root] <cmd...>")
		return 1
	}

	c, code := computeClosure(ctx, s, fs.Args(), !*noBaseline)
	if c == nil {
		return code
	}
	title := fmt.Sprintf("closure of %s (%d entries)", strings.Join(fs.Args(), " "), len(c.Entries))
	if err := RunPager(title, closureLines(s.SearchRoot, c)); err != nil {
		cPrintf(colError, "Error: %v\n", err)
		return 1
	}
	return code
}

// computeClosure builds the closure for commands. A cancelled run returns
// the partial closure with exit code 130.
func computeClosure(ctx context.Context, s *Settings, commands []string, withBaseline bool) (*Closure, int) {
	exec := NewExecutor(ctx, s.CommandTimeout)
	agg, closeProber, err := NewAggregator(s, exec, os.Stderr)
	if err != nil {
		cPrintf(colError, "Error: %v\n", err)
		return nil, 1
	}
	defer closeProber()

	var baseline []string
	if withBaseline {
		baseline = BaselineToolset(s.InitType)
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Resolving %d commands under %s\n", len(baseline)+len(commands), s.SearchRoot)
	c, err := agg.BuildClosure(ctx, commands, baseline)
	if err != nil {
		cPrintf(colWarn, "Interrupted: %v\n", err)
		return c, 130
	}
	return c, 0
}

func runLocateCommand(ctx context.Context, cfg *Config, args []string) int {
	fs := flag.NewFlagSet("locate", flag.ExitOnError)
	f := addCommonFlags(fs, false)
	s, err := settingsFrom(cfg, fs, f, args)
	if err != nil {
		cPrintf(colError, "Error: %v\n", err)
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Println("Usage: minfs locate [-t root] <cmd...>")
		return 1
	}

	db, err := NewPackageDatabase(s, NewExecutor(ctx, s.CommandTimeout))
	if err != nil {
		cPrintf(colError, "Error: %v\n", err)
		return 1
	}
	loc := &Locator{Root: s.SearchRoot, DB: db, Policy: s.LocatePolicy}
	code := 0
	for _, cmd := range fs.Args() {
		bin, err := loc.Locate(cmd)
		if err != nil {
			cPrintf(colWarn, "%s: %v\n", cmd, err)
			code = 1
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", cmd, relToRoot(s.SearchRoot, bin.Path), bin.Package)
	}
	return code
}

func runBuildCommand(ctx context.Context, cfg *Config, args []string) int {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	f := addCommonFlags(fs, true)
	outDir := fs.String("o", "", "output directory (MINFS_OUTPUT)")
	format := fs.String("f", "", "image format (MINFS_FORMAT)")
	imageName := fs.String("n", "", "image base name (MINFS_IMAGE_NAME)")
	strip := fs.Bool("strip", false, "strip ELF files in the image (MINFS_STRIP)")
	keep := fs.Bool("keep", false, "keep the assembled tree next to the image")
	sudo := fs.Bool("sudo", false, "use sudo to create device nodes")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	f.apply(cfg)
	for key, val := range map[string]string{
		"MINFS_OUTPUT":     *outDir,
		"MINFS_FORMAT":     *format,
		"MINFS_IMAGE_NAME": *imageName,
	} {
		if val != "" {
			cfg.Values[key] = val
		}
	}
	if *strip {
		cfg.Values["MINFS_STRIP"] = "1"
	}
	s, err := initConfig(cfg)
	if err != nil {
		cPrintf(colError, "Error: %v\n", err)
		return 1
	}

	c, code := computeClosure(ctx, s, fs.Args(), true)
	if code != 0 {
		return code
	}

	var privileged *Executor
	if *sudo && os.Geteuid() != 0 {
		privileged = &Executor{Context: ctx, ShouldRunAsRoot: true, Timeout: s.CommandTimeout}
	}
	image, err := BuildImage(ctx, s, c, BuildOptions{Privileged: privileged, KeepTree: *keep})
	if err != nil {
		cPrintf(colError, "Build failed: %v\n", err)
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Image %s ready (%d entries, %d warnings)\n", image, len(c.Entries), len(c.Warnings))
	return 0
}

// BuildOptions tunes BuildImage.
type BuildOptions struct {
	Privileged *Executor
	KeepTree   bool
}

// BuildImage assembles c, archives it and writes the checksum and manifest
// sidecars. It returns the image path.
func BuildImage(ctx context.Context, s *Settings, c *Closure, opts BuildOptions) (string, error) {
	if err := os.MkdirAll(s.OutputDir, 0o755); err != nil {
		return "", err
	}
	staging := filepath.Join(s.OutputDir, s.ImageName+".d")
	if err := os.RemoveAll(staging); err != nil {
		return "", fmt.Errorf("clean %s: %w", staging, err)
	}
	if !opts.KeepTree {
		defer os.RemoveAll(staging)
	}

	ws := newWarnings(os.Stderr)
	asm := &Assembler{
		Root:       s.SearchRoot,
		Dest:       staging,
		InitType:   s.InitType,
		Privileged: opts.Privileged,
		warn:       ws.add,
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		asm.Progress = os.Stderr
	}
	assembly, err := asm.Assemble(ctx, c)
	if err != nil {
		return "", err
	}

	if s.Strip {
		if err := stripTree(staging, s.StripTool, NewExecutor(ctx, s.CommandTimeout), ws.add); err != nil {
			return "", fmt.Errorf("strip: %w", err)
		}
	}

	image := filepath.Join(s.OutputDir, ImageFileName(s.ImageName, s.ImageFormat))
	colArrow.Print("-> ")
	colSuccess.Printf("Writing %s image %s\n", s.ImageFormat, image)
	if err := WriteImage(assembly, image, s.ImageFormat, s.Arch); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := WriteTreeManifest(staging, image+".manifest"); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	sum, err := WriteImageChecksum(image)
	if err != nil {
		return "", err
	}
	debugf("b3 %s\n", sum)

	c.Warnings = append(c.Warnings, ws.all()...)
	return image, nil
}

func runInspectCommand(args []string) int {
	if len(args) != 1 {
		fmt.Println("Usage: minfs inspect <image>")
		return 1
	}
	entries, err := ListImage(args[0])
	if err != nil {
		cPrintf(colError, "Error: %v\n", err)
		return 1
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("%s %10d /%s", e.Mode, e.Size, e.Name)
		switch {
		case e.Linkname != "":
			line += " -> " + e.Linkname
		case e.Mode&os.ModeDevice != 0:
			line += fmt.Sprintf(" [%d, %d]", e.Major, e.Minor)
		}
		lines = append(lines, line)
	}
	if err := RunPager(filepath.Base(args[0]), plainLines(lines)); err != nil {
		cPrintf(colError, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runPublishCommand(ctx context.Context, cfg *Config, args []string) int {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	list := fs.Bool("l", false, "list the published images instead")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	s, err := initConfig(cfg)
	if err != nil {
		cPrintf(colError, "Error: %v\n", err)
		return 1
	}
	client, err := NewS3Client(ctx, s)
	if err != nil {
		cPrintf(colError, "Error: %v\n", err)
		return 1
	}

	if *list {
		objs, err := client.ListObjects(ctx, fs.Arg(0))
		if err != nil {
			cPrintf(colError, "Error: %v\n", err)
			return 1
		}
		for _, o := range objs {
			fmt.Printf("%12d  %s\n", o.Size, o.Key)
		}
		return 0
	}

	if fs.NArg() != 1 {
		fmt.Println("Usage: minfs publish [-l] <image>")
		return 1
	}
	if err := client.Publish(ctx, fs.Arg(0)); err != nil {
		cPrintf(colError, "Publish failed: %v\n", err)
		return 1
	}
	return 0
}
