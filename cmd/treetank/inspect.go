package main

import "os"
import "fmt"
import "errors"
import "strconv"

import "github.com/olekukonko/tablewriter"
import "github.com/spf13/cobra"
import "github.com/sebastiangraf/treetank-sub005"

var (
	inspect_last  uint64
	inspect_items bool
	revision_flag int64
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "print the uber bucket and the most recent revisions",
	Args:  cobra.NoArgs,
	RunE:  runInspect,
}

var getCmd = &cobra.Command{
	Use:   "get <item key>...",
	Short: "print items at a revision",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGet,
}

var graphCmd = &cobra.Command{
	Use:   "graph <file.dot>",
	Short: "export the buckets of a revision as a dot graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraph,
}

func init() {
	inspectCmd.Flags().Uint64Var(&inspect_last, "last", 10, "number of revisions to list")
	inspectCmd.Flags().BoolVar(&inspect_items, "items", false, "list the items of the newest revision")
	for _, cmd := range []*cobra.Command{getCmd, graphCmd} {
		cmd.Flags().Int64VarP(&revision_flag, "revision", "r", -1, "revision to read, -1 is the newest")
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	res, err := openResource()
	if err != nil {
		return err
	}
	defer res.Close()

	uber := res.Uber()
	fmt.Printf("uber bucket %d: newest revision %d, %d buckets allocated, revisioning %s\n\n",
		uber.BucketKey(), uber.RevisionCount(), uber.BucketCounter(), res.Options().Revisioning)

	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetHeader([]string{"Revision", "Next item key", "Meta entries"})
	newest := uber.RevisionCount()
	for i := uint64(0); i < inspect_last && i <= newest; i++ {
		rtx, err := res.BeginRead(newest - i)
		if err != nil {
			return err
		}
		next, _ := rtx.NextItemKey()
		size, err := rtx.MetaSize()
		rtx.Close()
		if err != nil {
			return err
		}
		tbl.Append([]string{
			strconv.FormatUint(newest-i, 10),
			strconv.FormatUint(next, 10),
			strconv.Itoa(size),
		})
	}
	tbl.Render()

	if !inspect_items {
		return nil
	}

	rtx, err := res.BeginRead(newest)
	if err != nil {
		return err
	}
	defer rtx.Close()

	items := tablewriter.NewWriter(os.Stdout)
	items.SetHeader([]string{"Item key", "Size", "Fingerprint"})
	c := rtx.Cursor()
	for it, err := c.First(); ; it, err = c.Next() {
		if errors.Is(err, treetank.ErrNoMoreKeys) {
			break
		} else if err != nil {
			return err
		}
		size := "-"
		if blob, ok := it.(*treetank.BlobItem); ok {
			size = strconv.Itoa(len(blob.Value))
		}
		items.Append([]string{strconv.FormatUint(it.ItemKey(), 10), size, fmt.Sprintf("%x", it.Fingerprint()[:8])})
	}
	items.Render()
	return nil
}

func beginRead(res *treetank.Resource) (*treetank.ReadTrx, error) {
	revision := res.LatestRevision()
	if revision_flag >= 0 {
		revision = uint64(revision_flag)
	}
	return res.BeginRead(revision)
}

func runGet(cmd *cobra.Command, args []string) error {
	res, err := openResource()
	if err != nil {
		return err
	}
	defer res.Close()

	rtx, err := beginRead(res)
	if err != nil {
		return err
	}
	defer rtx.Close()

	for _, arg := range args {
		key, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item key %q: %w", arg, err)
		}
		it, found, err := rtx.Item(key)
		switch {
		case err != nil:
			return err
		case !found:
			fmt.Printf("%d: not found\n", key)
		default:
			if blob, ok := it.(*treetank.BlobItem); ok {
				fmt.Printf("%d: %q\n", key, blob.Value)
			} else {
				fmt.Printf("%d: %v\n", key, it)
			}
		}
	}
	return nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	res, err := openResource()
	if err != nil {
		return err
	}
	defer res.Close()

	rtx, err := beginRead(res)
	if err != nil {
		return err
	}
	defer rtx.Close()

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	return rtx.Graph(f)
}
