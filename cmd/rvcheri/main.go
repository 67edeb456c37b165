package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/rvcheri/compiler"
	"github.com/slowlang/rvcheri/compiler/elf"
)

func main() {
	expandCmd := &cli.Command{
		Name:        "expand",
		Description: "expand pseudo instructions and print assembly",
		Action:      expandAct,
		Args:        cli.Args{},
	}

	objectCmd := &cli.Command{
		Name:        "object",
		Description: "expand and print the object summary: flags, sections, relocations",
		Action:      objectAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "rvcheri",
		Description: "rvcheri runs the late CHERI RISC-V backend stages over module descriptions",
		Flags: []*cli.Flag{
			cli.NewFlag("abi", "", "target abi override"),
			cli.NewFlag("features", "", "comma separated target features override"),
			cli.NewFlag("pic", false, "position independent code"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			expandCmd,
			objectCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func expandAct(c *cli.Command) (err error) {
	return compileEach(c, func(name string, res *compiler.Result) {
		fmt.Printf("# %s\n%s", name, res.Asm)
	})
}

func objectAct(c *cli.Command) (err error) {
	return compileEach(c, func(name string, res *compiler.Result) {
		obj := res.Object

		fmt.Printf("# %s\nflags: %#x %v\n", name, obj.Flags, elf.DescribeFlags(obj.Flags))

		for _, s := range obj.Sections {
			fmt.Printf("section %s: %d bytes, align %d\n", s.Name, len(s.Data), s.Align)

			for _, r := range s.Relocs {
				fmt.Printf("\t%v\n", r)
			}
		}

		for _, sym := range obj.Symbols {
			fmt.Printf("symbol %s\n", sym.Name)
		}
	})
}

func compileEach(c *cli.Command, print func(name string, res *compiler.Result)) error {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	ov := compiler.Overrides{
		ABI: c.String("abi"),
	}

	if f := c.String("features"); f != "" {
		ov.Features = strings.Split(f, ",")
	}

	if c.Bool("pic") {
		pic := true
		ov.PIC = &pic
	}

	for _, a := range c.Args {
		res, err := compiler.CompileFile(ctx, a, ov)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		print(a, res)
	}

	return nil
}
