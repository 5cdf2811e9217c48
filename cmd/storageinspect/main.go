// Command storageinspect is a thin front door over the storage engine:
// it creates/drops tables, validates a tree's invariants, and scans a
// table's keys. It never parses SQL; sql-text is stored verbatim and
// handed back opaque.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spandanb/learndb-go/catalog"
	"github.com/spandanb/learndb-go/pager"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "storageinspect",
		Short: "Inspect and drive a learndb-go storage file directly",
	}
	root.AddCommand(
		newOpenCmd(),
		newCreateTableCmd(),
		newDropTableCmd(),
		newValidateCmd(),
		newScanCmd(),
	)
	return root
}

// openCatalog opens the pager and catalog at path, or aborts the process
// on a fatal error — this command is the one place a class-1/2/3 engine
// error is allowed to terminate the process (spec.md §7).
func openCatalog(path string) (*pager.Pager, *catalog.Catalog) {
	p, err := pager.Open(path)
	if err != nil {
		fatal(err, "open pager")
	}
	cat, err := catalog.Open(p)
	if err != nil {
		fatal(err, "open catalog")
	}
	return p, cat
}

func fatal(err error, action string) {
	logrus.WithError(err).Fatalf("storageinspect: %s failed", action)
}

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Open (or create) a storage file and list its tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cat := openCatalog(args[0])
			defer func() { _ = p.Close() }()
			for _, name := range cat.TableNames() {
				entry, _ := cat.Entry(name)
				fmt.Printf("%s\troot=%d\ttable_id=%s\n", name, entry.RootPageNum, entry.TableID)
			}
			return nil
		},
	}
}

func newCreateTableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-table <path> <name> <sql-text>",
		Short: "Register a new table and allocate its root page",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, name, sqlText := args[0], args[1], args[2]
			p, cat := openCatalog(path)
			defer func() { _ = p.Close() }()

			tree, err := cat.CreateTable(name, sqlText)
			if err != nil {
				return errors.Wrap(err, "create-table")
			}
			fmt.Printf("created %s at root page %d\n", name, tree.RootPageNum())
			return nil
		},
	}
}

func newDropTableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop-table <path> <name>",
		Short: "Drop a table and reclaim its pages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, name := args[0], args[1]
			p, cat := openCatalog(path)
			defer func() { _ = p.Close() }()

			if err := cat.DropTable(name); err != nil {
				return errors.Wrap(err, "drop-table")
			}
			fmt.Printf("dropped %s\n", name)
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path> <name>",
		Short: "Check a table's B+tree invariants",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, name := args[0], args[1]
			p, cat := openCatalog(path)
			defer func() { _ = p.Close() }()

			tree, ok := cat.Table(name)
			if !ok {
				return errors.Errorf("validate: no such table %q", name)
			}
			if err := tree.Validate(); err != nil {
				fatal(err, "validate")
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <path> <name>",
		Short: "Print every key in a table, in order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, name := args[0], args[1]
			p, cat := openCatalog(path)
			defer func() { _ = p.Close() }()

			tree, ok := cat.Table(name)
			if !ok {
				return errors.Errorf("scan: no such table %q", name)
			}
			cursor, err := tree.NewCursor()
			if err != nil {
				fatal(err, "scan")
			}
			for cursor.Valid() {
				key, err := cursor.Key()
				if err != nil {
					fatal(err, "scan")
				}
				fmt.Println(key)
				if ok, err := cursor.Next(); err != nil {
					fatal(err, "scan")
				} else if !ok {
					break
				}
			}
			return nil
		},
	}
}
