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

// Command nestaio runs the cache server described by a flat nio.conf
// file, or sends a loopback admin command to an already-running one.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/y10naoki/nestaio/internal/config"
	"github.com/y10naoki/nestaio/internal/logger"
	"github.com/y10naoki/nestaio/internal/server"
	"github.com/y10naoki/nestaio/internal/store"
)

// buildVersion is overridden at link time with -ldflags, matching the
// teacher's version package's build-metadata convention.
var buildVersion = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		flagStart   bool
		flagStop    bool
		flagStatus  bool
		flagVersion bool
		confFile    string
	)

	root := &cobra.Command{
		Use:           "nestaio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case flagVersion:
				fmt.Fprintln(cmd.OutOrStdout(), buildVersion)
				return nil
			case flagStop:
				return dialAdmin(confFile, "__/shutdown/__")
			case flagStatus:
				return dialAdmin(confFile, "__/status/__")
			case flagStart:
				return startServer(confFile)
			default:
				_ = cmd.Usage()
				return fmt.Errorf("no action given; pass one of -start, -stop, -status, -version")
			}
		},
	}

	// pflag reads "-start" as a run of shorthand flags, so the single-dash
	// action spellings are rewritten to their "--" long form first.
	normalized := make([]string, len(args))
	for i, a := range args {
		switch a {
		case "-start", "-stop", "-status", "-version":
			a = "-" + a
		}
		normalized[i] = a
	}
	root.SetArgs(normalized)
	root.Flags().BoolVar(&flagStart, "start", false, "start the server")
	root.Flags().BoolVar(&flagStop, "stop", false, "signal a running server to shut down")
	root.Flags().BoolVar(&flagStatus, "status", false, "query a running server's status")
	root.Flags().BoolVar(&flagVersion, "version", false, "print the build version")
	root.Flags().StringVarP(&confFile, "f", "f", "", "path to the config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func dialAdmin(confFile, command string) error {
	cfg, err := loadConfig(confFile)
	if err != nil {
		return err
	}
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(cfg.PortNo))))
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(command + "\r\n")); err != nil {
		return err
	}
	reply := make([]byte, 256)
	n, err := conn.Read(reply)
	if err != nil {
		return err
	}
	fmt.Print(string(reply[:n]))
	return nil
}

func startServer(confFile string) error {
	cfg, err := loadConfig(confFile)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		OutputFile: cfg.OutputFile,
		ErrorFile:  cfg.ErrorFile,
		TraceFlag:  cfg.TraceFlag,
	})
	if err != nil {
		return err
	}

	if cfg.Username != "" {
		if u, uerr := cfg.ResolveUser(); uerr != nil {
			log.Warning("nio.username %q could not be resolved: %v", cfg.Username, uerr)
		} else {
			log.Info("nio.username %s resolved (uid=%s); the process user is not switched", u.Username, u.Uid)
		}
	}
	if cfg.Daemon {
		log.Info("nio.daemon is set; this build runs attached to its controlling terminal regardless")
	}

	st, err := store.Open(cfg.DatabaseFile, cfg.NioBucketNum)
	if err != nil {
		return err
	}
	defer st.Close()

	srv, err := server.New(cfg, st, log, buildVersion)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutdown signal received")
		cancel()
	}()

	log.Info("listening on port %d", cfg.PortNo)
	return srv.Run(ctx)
}
