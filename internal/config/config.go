/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package config loads the server's flat "name=value" configuration
// file. The grammar (# comments, case-insensitive known keys, an
// "include" directive that recurses into another file) mirrors the
// original config() routine exactly; unknown keys are ignored rather
// than rejected, matching that routine's "ignore" fallthrough.
package config

import (
	"fmt"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
)

// Config holds every nio.* setting the server reads at startup.
type Config struct {
	PortNo         uint16
	Backlog        int
	WorkerThreads  int
	Daemon         bool
	Username       string
	ErrorFile      string
	OutputFile     string
	TraceFlag      bool
	DatabaseFile   string
	NioBucketNum   int
	MmapSizeMiB    int
}

// Default returns the configuration the server runs with when no
// config file overrides a setting.
func Default() Config {
	return Config{
		PortNo:        11211,
		Backlog:       100,
		WorkerThreads: 4,
		NioBucketNum:  1_000_000,
	}
}

// Load reads path and any file it includes, in the same "last
// assignment wins" order the original reader applies (an include is
// processed inline, at the point it is named, just like a recursive
// call to the reader would).
func Load(path string) (Config, error) {
	cfg := Default()
	if err := load(path, &cfg, map[string]bool{}); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func load(path string, cfg *Config, seen map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if seen[abs] {
		return fmt.Errorf("config: include cycle at %s", path)
	}
	seen[abs] = true

	// properties.LoadFile already implements the "#-starts-a-comment,
	// name=value, blank lines ignored" grammar nio_config.c hand-rolls;
	// only the include recursion and case-insensitive key matching are
	// layered on top here.
	props, err := properties.LoadFile(abs, properties.UTF8)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	for _, name := range props.Keys() {
		value := props.GetString(name, "")
		if err := apply(strings.ToLower(name), value, cfg); err != nil {
			return err
		}
		if strings.EqualFold(name, "include") {
			includePath := value
			if !filepath.IsAbs(includePath) {
				includePath = filepath.Join(filepath.Dir(abs), includePath)
			}
			if err := load(includePath, cfg, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func apply(name, value string, cfg *Config) error {
	switch name {
	case "nio.port_no":
		n, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("config: nio.port_no: %w", err)
		}
		cfg.PortNo = uint16(n)
	case "nio.backlog":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: nio.backlog: %w", err)
		}
		cfg.Backlog = n
	case "nio.worker_threads":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: nio.worker_threads: %w", err)
		}
		cfg.WorkerThreads = n
	case "nio.daemon":
		cfg.Daemon = truthy(value)
	case "nio.username":
		cfg.Username = value
	case "nio.error_file":
		if value != "" {
			cfg.ErrorFile = value
		}
	case "nio.output_file":
		if value != "" {
			cfg.OutputFile = value
		}
	case "nio.trace_flag":
		cfg.TraceFlag = truthy(value)
	case "nio.database_file":
		if value != "" {
			cfg.DatabaseFile = value
		}
	case "nio.nio_bucket_num":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: nio.nio_bucket_num: %w", err)
		}
		cfg.NioBucketNum = n
	case "nio.mmap_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: nio.mmap_size: %w", err)
		}
		cfg.MmapSizeMiB = n
	case "include":
		// handled by the caller, after the key/value loop sees it
	default:
		// unknown keys are ignored, matching the original reader
	}
	return nil
}

func truthy(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

// ResolveUser looks up Username for informational logging. The server
// never actually calls setuid/setgid; dropping privileges at startup
// is a deployment concern handled outside this process today.
func (c Config) ResolveUser() (*user.User, error) {
	if c.Username == "" {
		return nil, nil
	}
	return user.Lookup(c.Username)
}
