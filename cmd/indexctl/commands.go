package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/erain9/orderindex/pkg/book"
	"github.com/erain9/orderindex/pkg/core"
	"github.com/erain9/orderindex/pkg/messaging"
	"github.com/fatih/color"
)

var (
	cyan  = color.New(color.FgCyan).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	amber = color.New(color.FgYellow).SprintFunc()
)

func eventColor(t messaging.EventType) string {
	switch t {
	case messaging.EventInserted:
		return green(string(t))
	case messaging.EventRemoved:
		return red(string(t))
	default:
		return amber(string(t))
	}
}

// execute runs one command against b and writes its result to out
func execute(ctx context.Context, b *book.Book, ticks book.Ticks, command string, args []string, out io.Writer) error {
	switch command {
	case "insert":
		if len(args) != 2 {
			return fmt.Errorf("%w: insert <price> <id>", errUsage)
		}
		price, err := ticks.ToKey(args[0])
		if err != nil {
			return err
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		if err := b.Insert(ctx, price, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s order %d at %s\n", green("inserted"), id, ticks.FromKey(price))

	case "remove":
		id, err := oneID(args, "remove <id>")
		if err != nil {
			return err
		}
		if err := b.Remove(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s order %d\n", red("removed"), id)

	case "reprice":
		if len(args) != 2 {
			return fmt.Errorf("%w: reprice <id> <price>", errUsage)
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		price, err := ticks.ToKey(args[1])
		if err != nil {
			return err
		}
		if err := b.Reprice(ctx, id, price); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s order %d to %s\n", amber("repriced"), id, ticks.FromKey(price))

	case "get":
		id, err := oneID(args, "get <id>")
		if err != nil {
			return err
		}
		price, err := b.GetNode(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d %s\n", id, ticks.FromKey(price))

	case "first":
		printOrder(out, b, ticks, b.First())

	case "last":
		printOrder(out, b, ticks, b.Last())

	case "next", "prev":
		id, err := oneID(args, command+" <id>")
		if err != nil {
			return err
		}
		var neighbour uint64
		if command == "next" {
			neighbour, err = b.Next(id)
		} else {
			neighbour, err = b.Prev(id)
		}
		if err != nil {
			return err
		}
		printOrder(out, b, ticks, neighbour)

	case "walk":
		return walk(out, b, ticks)

	case "levels":
		return levels(out, b, ticks)

	case "verify":
		if err := b.Verify(); err != nil {
			return err
		}
		if err := b.VerifyStore(ctx); err != nil {
			return err
		}
		digest := b.Digest()
		fmt.Fprintf(out, "%s orders=%d levels=%d depth=%d digest=%s\n",
			green("ok"), b.Len(), b.Levels(), b.Depth(), hex.EncodeToString(digest[:]))

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
	return nil
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == core.Sentinel {
		return 0, fmt.Errorf("%w: order id %q", core.ErrInvalidArgument, s)
	}
	return id, nil
}

func oneID(args []string, usage string) (uint64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: %s", errUsage, usage)
	}
	return parseID(args[0])
}

func printOrder(out io.Writer, b *book.Book, ticks book.Ticks, id uint64) {
	if id == core.Sentinel {
		fmt.Fprintln(out, "none")
		return
	}
	price, err := b.GetNode(id)
	if err != nil {
		fmt.Fprintln(out, "none")
		return
	}
	fmt.Fprintf(out, "%d %s\n", id, ticks.FromKey(price))
}

func walk(out io.Writer, b *book.Book, ticks book.Ticks) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s\t%s\t%s\t\n", cyan("Price"), cyan("Key"), cyan("Order"))

	b.Walk(func(price, id uint64) bool {
		fmt.Fprintf(w, "%s\t%d\t%d\t\n", ticks.FromKey(price), price, id)
		return true
	})
	return w.Flush()
}

func levels(out io.Writer, b *book.Book, ticks book.Ticks) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", cyan("Price"), cyan("Orders"), cyan("Head"), cyan("Tail"))

	b.WalkLevels(func(l core.Level) bool {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t\n", ticks.FromKey(l.Price), l.Count, l.Head, l.Tail)
		return true
	})
	return w.Flush()
}
