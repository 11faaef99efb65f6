package migration

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
)

// CLI 执行迁移动作并把结果写给终端。每个动作结束后打印 memory_records
// 所处的 schema 版本，方便在部署脚本里直接判断。
type CLI struct {
	m   Migrator
	out io.Writer
}

// NewCLI 创建 CLI，out 为 nil 时丢弃输出
func NewCLI(m Migrator, out io.Writer) *CLI {
	if out == nil {
		out = io.Discard
	}
	return &CLI{m: m, out: out}
}

// Up 应用全部待执行迁移
func (c *CLI) Up(ctx context.Context) error {
	return c.apply(ctx, "migrate up", c.m.Up)
}

// Down 回滚最近一次迁移；all 为 true 时回滚全部
func (c *CLI) Down(ctx context.Context, all bool) error {
	if all {
		if err := c.m.Reset(ctx); err != nil {
			return fmt.Errorf("migrate down --all: %w", err)
		}
		fmt.Fprintln(c.out, "memory schema removed (version 0)")
		return nil
	}
	return c.apply(ctx, "migrate down", func(ctx context.Context) error {
		return c.m.Steps(ctx, -1)
	})
}

// Steps n > 0 前进，n < 0 回退
func (c *CLI) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return fmt.Errorf("migrate steps: n must not be zero")
	}
	return c.apply(ctx, fmt.Sprintf("migrate steps %d", n), func(ctx context.Context) error {
		return c.m.Steps(ctx, n)
	})
}

// Force 直接写入版本号并清除 dirty 标记，不执行 SQL
func (c *CLI) Force(ctx context.Context, version int) error {
	if version < 0 {
		return fmt.Errorf("migrate force: version must not be negative")
	}
	return c.apply(ctx, fmt.Sprintf("migrate force %d", version), func(ctx context.Context) error {
		return c.m.Force(ctx, version)
	})
}

// Version 打印当前版本
func (c *CLI) Version(ctx context.Context) error {
	v, dirty, err := c.m.Version(ctx)
	if err != nil {
		return fmt.Errorf("migrate version: %w", err)
	}
	fmt.Fprintln(c.out, versionLine(v, dirty))
	return nil
}

// Status 以表格列出每个迁移文件的状态
func (c *CLI) Status(ctx context.Context) error {
	plan, err := c.m.Plan(ctx)
	if err != nil {
		return fmt.Errorf("migrate status: %w", err)
	}
	if len(plan) == 0 {
		fmt.Fprintln(c.out, "no migrations embedded for this driver")
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	applied := 0
	for _, s := range plan {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
			applied++
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d of %d applied\n", applied, len(plan))
	return nil
}

func (c *CLI) apply(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	v, dirty, err := c.m.Version(ctx)
	if err != nil {
		return fmt.Errorf("%s: read version: %w", op, err)
	}
	plan, err := c.m.Plan(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	pending := 0
	for _, s := range plan {
		if !s.Applied {
			pending++
		}
	}
	fmt.Fprintf(c.out, "%s: %s, %d pending\n", op, versionLine(v, dirty), pending)
	return nil
}

func versionLine(v uint, dirty bool) string {
	if v == 0 {
		return "memory schema at version 0"
	}
	if dirty {
		return fmt.Sprintf("memory schema at version %d (dirty)", v)
	}
	return fmt.Sprintf("memory schema at version %d", v)
}
