package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/tcassar-diss/retsnoop/ksyms"
	"github.com/urfave/cli/v2"
)

func main() {
	var path string

	app := &cli.App{
		Name:      "ksym",
		Usage:     "resolve raw kernel addresses (arguments, or stdin) to sym+0xoff",
		ArgsUsage: "[addr...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "kallsyms",
				Value:       ksyms.DefaultPath,
				Destination: &path,
			},
		},
		Action: func(cCtx *cli.Context) error {
			syms, err := ksyms.Load(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to load symbols: %v", err), 1)
			}

			addrs := cCtx.Args().Slice()
			if len(addrs) == 0 {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					addrs = append(addrs, strings.Fields(scanner.Text())...)
				}

				if err := scanner.Err(); err != nil {
					return cli.Exit(fmt.Sprintf("failed to read stdin: %v", err), 1)
				}
			}

			for _, a := range addrs {
				addr, err := strconv.ParseUint(strings.TrimPrefix(a, "0x"), 16, 64)
				if err != nil {
					return cli.Exit(fmt.Sprintf("bad address %q: %v", a, err), 1)
				}

				sym := syms.Resolve(addr)
				if sym == nil {
					fmt.Printf("%016x ??\n", addr)
					continue
				}

				line := fmt.Sprintf("%016x %s+0x%x", addr, sym.Name, addr-sym.Addr)
				if sym.Module != "" {
					line += " [" + sym.Module + "]"
				}

				fmt.Println(line)
			}

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
