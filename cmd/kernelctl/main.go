// Command kernelctl drives the parts of the kernel's build/test loop that
// live outside the kernel binary itself: producing a build manifest,
// launching qemu-system-x86_64 against it, disassembling the result, and
// running go vet. It never links against cmd/kernel or internal/bootpivot's
// runtime path — it only shells out to the tools a real build would use.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dbartussek-go/kernelcore/internal/cli"
)

const toolName = "kernelctl"

var commands = []cli.CommandInfo{
	{
		Name: "build", Description: "write a kernel build manifest",
		Usage: "kernelctl build [--release]",
		Flags: []cli.FlagInfo{{Name: "release", Usage: "build the manifest in release mode", Default: "false"}},
	},
	{
		Name: "run", Description: "boot the manifest under qemu-system-x86_64",
		Usage: "kernelctl run [--gdb] [--release]",
		Flags: []cli.FlagInfo{
			{Name: "gdb", Usage: "pause at boot for a debugger to attach", Default: "false"},
			{Name: "release", Usage: "reread a release-mode manifest", Default: "false"},
		},
	},
	{Name: "disassemble", Description: "decode the manifest's entry stub", Usage: "kernelctl disassemble"},
	{Name: "vet", Description: "run go vet ./... (alias: clippy)", Usage: "kernelctl vet"},
	{
		Name: "watch", Description: "rebuild the manifest on source changes",
		Usage: "kernelctl watch [--release]",
		Flags: []cli.FlagInfo{{Name: "release", Usage: "rebuild in release mode", Default: "false"}},
	},
	{
		Name: "config", Description: "print the effective config and write it to --config's path",
		Usage: "kernelctl config [--config path]",
	},
}

func main() {
	if len(os.Args) < 2 {
		cli.PrintUsage(toolName, commands)
		os.Exit(1)
	}

	sub := os.Args[1]
	fs := flag.NewFlagSet(sub, flag.ExitOnError)
	release := fs.Bool("release", false, "build/run in release mode")
	verbose := fs.Bool("verbose", true, "log progress")
	gdb := fs.Bool("gdb", false, "pause at boot for a debugger (run only)")
	configPath := fs.String("config", "kernelctl.json", "path to kernelctl's config file")
	help := fs.Bool("help", false, "show this command's usage")
	jsonOut := fs.Bool("json", false, "print version as JSON")
	fs.Parse(os.Args[2:])

	if *help {
		if cmd, ok := findCommand(sub); ok {
			cli.PrintCommandUsage(toolName, cmd)
			return
		}
	}

	cfg, err := cli.LoadConfig(*configPath)
	if err != nil {
		cli.ExitWithError("load config %s: %v", *configPath, err)
	}

	logger := cli.NewLogger(*verbose, false)

	switch sub {
	case "build":
		err = runBuild(logger, cfg, *release)
	case "run":
		err = runRun(logger, cfg, *gdb, *release)
	case "disassemble":
		err = runDisassemble(logger, cfg)
	case "vet", "clippy":
		err = runVet(logger)
	case "watch":
		err = runWatch(logger, cfg, *release)
	case "config":
		fmt.Printf("%+v\n", *cfg)
		err = cfg.SaveConfig(*configPath)
	case "--help", "-h", "help":
		cli.PrintUsage(toolName, commands)
		return
	case "--version", "-v", "version":
		cli.PrintVersion(toolName, *jsonOut)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", sub)
		cli.PrintUsage(toolName, commands)
		cli.ExitWithCode(1, "")
	}

	cli.HandleError(err, logger)
}

func findCommand(name string) (cli.CommandInfo, bool) {
	for _, c := range commands {
		if c.Name == name {
			return c, true
		}
	}
	return cli.CommandInfo{}, false
}
