package migration

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
)

// CLI agentgov migrate 子命令
type CLI struct {
	migrator *Migrator
	out      io.Writer
}

// NewCLI 创建命令行输出层
func NewCLI(m *Migrator, out io.Writer) *CLI {
	return &CLI{migrator: m, out: out}
}

// Run 执行子命令：up、down、steps N、force N、version、status
func (c *CLI) Run(ctx context.Context, command string, args []string) error {
	switch command {
	case "up":
		if err := c.migrator.Up(ctx); err != nil {
			return err
		}
		return c.printVersion()
	case "down":
		if err := c.migrator.Down(ctx); err != nil {
			return err
		}
		return c.printVersion()
	case "steps":
		n, err := intArg(command, args)
		if err != nil {
			return err
		}
		if err := c.migrator.Steps(ctx, n); err != nil {
			return err
		}
		return c.printVersion()
	case "force":
		n, err := intArg(command, args)
		if err != nil {
			return err
		}
		if err := c.migrator.Force(n); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Version forced to %d\n", n)
		return nil
	case "version":
		return c.printVersion()
	case "status":
		return c.printStatus()
	default:
		return fmt.Errorf("unknown migrate command: %s", command)
	}
}

func intArg(command string, args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s requires exactly one numeric argument", command)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", command, args[0])
	}
	return n, nil
}

func (c *CLI) printVersion() error {
	version, dirty, err := c.migrator.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.out, "No migrations applied yet.")
		return nil
	}
	if dirty {
		fmt.Fprintf(c.out, "Current version: %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(c.out, "Current version: %d\n", version)
	return nil
}

func (c *CLI) printStatus() error {
	statuses, err := c.migrator.Status()
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	applied := 0
	for _, s := range statuses {
		status := "Pending"
		switch {
		case s.Dirty:
			status = "Dirty"
		case s.Applied:
			status = "Applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}
