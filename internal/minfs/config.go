package minfs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Settings is the typed view of a Config. It is passed explicitly to every
// component; nothing in the package reads the search root from a global.
type Settings struct {
	SearchRoot     string
	InitType       string // busybox, sysv, none ("no" is accepted)
	PkgDB          string // rpm, dpkg, manifest
	ManifestDB     string // installed db name for the manifest backend
	Linker         string // ldd, elf
	LddPath        string
	Prober         string // file, native
	ProbeCache     string
	ELFClass       int
	LocatePolicy   string // last, first
	MinPrefix      int
	CommandTimeout time.Duration
	OutputDir      string
	ImageFormat    string
	ImageName      string
	Arch           string
	Strip          bool
	StripTool      string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

// Load /etc/minfs.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to open config %s: %w", path, err)
	}

	// Merge MINFS_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge MINFS_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "MINFS_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func (cfg *Config) get(key, def string) string {
	if v, ok := cfg.Values[key]; ok && v != "" {
		return v
	}
	return def
}

// initConfig turns the raw key/value map into Settings, applying defaults and
// validating enumerated values.
func initConfig(cfg *Config) (*Settings, error) {
	s := &Settings{
		SearchRoot:   filepath.Clean(cfg.get("MINFS_ROOT", DefaultSearchRoot)),
		InitType:     cfg.get("MINFS_INIT", "busybox"),
		PkgDB:        cfg.get("MINFS_PKGDB", "rpm"),
		ManifestDB:   cfg.get("MINFS_MANIFEST_DB", "hokuto"),
		Linker:       cfg.get("MINFS_LINKER", "ldd"),
		ProbeCache:   cfg.get("MINFS_PROBE_CACHE", ""),
		LocatePolicy: cfg.get("MINFS_LOCATE", "last"),
		OutputDir:    cfg.get("MINFS_OUTPUT", "."),
		ImageFormat:  cfg.get("MINFS_FORMAT", "cpio"),
		ImageName:    cfg.get("MINFS_IMAGE_NAME", "fs"),
		Arch:         cfg.get("MINFS_ARCH", arch),
		StripTool:    cfg.get("MINFS_STRIP_TOOL", "strip"),
		S3Endpoint:   cfg.get("MINFS_S3_ENDPOINT", ""),
		S3Region:     cfg.get("MINFS_S3_REGION", "auto"),
		S3Bucket:     cfg.get("MINFS_S3_BUCKET", ""),
		S3AccessKey:  cfg.get("MINFS_S3_ACCESS_KEY_ID", ""),
		S3SecretKey:  cfg.get("MINFS_S3_SECRET_ACCESS_KEY", ""),
	}

	if s.InitType == "no" {
		s.InitType = "none"
	}
	Debug = cfg.get("MINFS_DEBUG", "0") == "1"
	s.Strip = cfg.get("MINFS_STRIP", "0") == "1"

	// The cross ldd of the devkit lives next to the target tree.
	defLdd := "ldd"
	if cand := filepath.Join(s.SearchRoot, "..", "..", "..", "host", "bin", "ldd"); fileExists(cand) {
		defLdd = cand
	}
	s.LddPath = cfg.get("MINFS_LDD", defLdd)

	defProber := "native"
	if _, err := lookPath("file"); err == nil {
		defProber = "file"
	}
	s.Prober = cfg.get("MINFS_PROBER", defProber)

	var err error
	if s.ELFClass, err = strconv.Atoi(cfg.get("MINFS_ELF_CLASS", "32")); err != nil || (s.ELFClass != 32 && s.ELFClass != 64) {
		return nil, fmt.Errorf("MINFS_ELF_CLASS must be 32 or 64, got %q", cfg.Values["MINFS_ELF_CLASS"])
	}
	if s.MinPrefix, err = strconv.Atoi(cfg.get("MINFS_MIN_PREFIX", "0")); err != nil || s.MinPrefix < 0 {
		return nil, fmt.Errorf("MINFS_MIN_PREFIX must be a non-negative integer, got %q", cfg.Values["MINFS_MIN_PREFIX"])
	}
	if s.CommandTimeout, err = time.ParseDuration(cfg.get("MINFS_TIMEOUT", "30s")); err != nil {
		return nil, fmt.Errorf("invalid MINFS_TIMEOUT: %w", err)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	check := func(name, val string, allowed ...string) error {
		for _, a := range allowed {
			if val == a {
				return nil
			}
		}
		return fmt.Errorf("%w: %s=%q (want one of %s)", errUnknownBackend, name, val, strings.Join(allowed, ", "))
	}
	if err := check("init type", s.InitType, "busybox", "sysv", "none"); err != nil {
		return err
	}
	if err := check("package database", s.PkgDB, "rpm", "dpkg", "manifest"); err != nil {
		return err
	}
	if err := check("linker", s.Linker, "ldd", "elf"); err != nil {
		return err
	}
	if err := check("prober", s.Prober, "file", "native"); err != nil {
		return err
	}
	if err := check("locate policy", s.LocatePolicy, "last", "first"); err != nil {
		return err
	}
	if _, ok := imageFormats[s.ImageFormat]; !ok {
		return fmt.Errorf("%w: image format %q", errUnknownBackend, s.ImageFormat)
	}
	if s.CommandTimeout <= 0 {
		return fmt.Errorf("MINFS_TIMEOUT must be positive")
	}
	return nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
