// Package busy implements a dispatcher for BusyBox-style multi-call binaries, and the logger that
// the dispatched commands share.
package busy

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	//nolint:depguard // This is one of the few places where it is appropriate to not go through
	// dlog: to initialize dlog.
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/klog/v2"

	"github.com/datawire/dlib/dlog"
)

type Command struct {
	Run func(ctx context.Context, version string, args ...string) error
}

// An error with an ExitCode method makes Main exit with that code instead of 1.
type exitCoder interface {
	ExitCode() int
}

var logrusLogger *logrus.Logger

func init() {
	testInit()
}

// testInit (re)builds the logger from the environment.
func testInit() {
	logrusLogger = logrus.New()
	if useJSON, _ := strconv.ParseBool(os.Getenv("KUBEMODULE_JSON_LOGGING")); useJSON {
		logrusLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.0000",
		})
	} else {
		logrusLogger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05.0000",
			FullTimestamp:   true,
		})
	}
	if lvl, err := logrus.ParseLevel(os.Getenv("KUBEMODULE_LOG_LEVEL")); err == nil {
		logrusLogger.SetLevel(lvl)
	}
	logrusLogger.SetReportCaller(true)
	// stdout carries the module result.
	logrusLogger.SetOutput(os.Stderr)
}

func SetLogLevel(lvl logrus.Level) {
	logrusLogger.SetLevel(lvl)
	quietKlog(lvl)
}

// klogThreshold maps a logrus level onto klog's stderr threshold. klog counts the other way
// round: info == 0, warning, error, fatal == 3.
func klogThreshold(level logrus.Level) int {
	switch {
	case level >= logrus.InfoLevel:
		return 0
	case level == logrus.WarnLevel:
		return 1
	default:
		return 2
	}
}

// quietKlog keeps client-go's klog output off stdout and below the configured level.
func quietKlog(level logrus.Level) {
	flags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(flags)
	if err := flags.Parse([]string{
		fmt.Sprintf("-stderrthreshold=%d", klogThreshold(level)),
		"-logtostderr=false",
	}); err != nil {
		panic(err)
	}
	klog.SetOutput(io.Discard)
}

// dispatch picks the command to run: the program name, or the first argument when invoked as
// binName itself.
func dispatch(binName string, args []string) (string, []string) {
	name := filepath.Base(args[0])
	if name == binName && len(args) > 1 {
		return args[1], args[2:]
	}
	return name, args[1:]
}

func Main(binName, humanName string, version string, cmds map[string]Command) {
	os.Exit(run(binName, humanName, version, os.Args, cmds))
}

// run dispatches argv to one of cmds and returns the process exit code.
func run(binName, humanName string, version string, argv []string, cmds map[string]Command) int {
	name, args := dispatch(binName, argv)

	logger := dlog.WrapLogrus(logrusLogger).
		WithField("PID", os.Getpid()).
		WithField("CMD", name)
	ctx := dlog.WithLogger(context.Background(), logger)
	dlog.SetFallbackLogger(logger.WithField("oops-i-did-not-pass-context-correctly", true))

	quietKlog(logrusLogger.GetLevel())

	cmd, ok := cmds[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "The %s main program is a multi-call binary that combines various\n", humanName)
		fmt.Fprintln(os.Stderr, "programs into one executable.")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Usage: %s <PROGRAM> [arguments]...\n", binName)
		fmt.Fprintln(os.Stderr, "   or: <PROGRAM> [arguments]...")
		fmt.Fprintln(os.Stderr)
		cmdnames := make([]string, 0, len(cmds))
		for cmdname := range cmds {
			cmdnames = append(cmdnames, cmdname)
		}
		sort.Strings(cmdnames)
		fmt.Fprintln(os.Stderr, "Available programs:", cmdnames)
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Unknown program %q\n", name)
		// POSIX says the shell should set $?=127 for "command
		// not found", so non-shell programs that just run a
		// command for you (including busybox) tend to mimic
		// that and use exit code 127 to indicate "command not
		// found".
		return 127
	}

	if err := cmd.Run(ctx, version, args...); err != nil {
		dlog.Errorf(ctx, "shut down with error: %v", err)
		var ec exitCoder
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		return 1
	}
	return 0
}
