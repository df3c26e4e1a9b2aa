package treetank

import "io"
import "fmt"
import "bufio"

// Graph exports the buckets reachable from the revision as a dot graph, to understand any issues.
// Older physical versions of a leaf which a read still merges are drawn with dashed edges.
func (t *ReadTrx) Graph(out io.Writer) (err error) {
	if err = t.check(); err != nil {
		return
	}

	w := bufio.NewWriter(out)

	fmt.Fprintf(w, "digraph treetank_revision_%d {\n", t.root.revision)
	fmt.Fprintf(w, "node [ fontsize=12 style=filled ]\n")
	fmt.Fprintf(w, "B%d [ fillcolor=gold label = \"revision %d\\nitems %d\" ];\n", t.root.bucket_key, t.root.revision, t.root.next_item_key)

	if meta := t.root.keys[metaReference]; meta != NULL_BUCKET {
		size, _ := t.MetaSize()
		fmt.Fprintf(w, "B%d [ fillcolor=lightblue label = \"meta %d\\nentries %d\" ];\n", meta, meta, size)
		fmt.Fprintf(w, "B%d -> B%d ;\n", t.root.bucket_key, meta)
	}

	if root := t.root.keys[itemTreeReference]; root != NULL_BUCKET {
		fmt.Fprintf(w, "B%d -> B%d ;\n", t.root.bucket_key, root)
		if err = t.graph(w, root, 0); err != nil {
			return
		}
	}

	fmt.Fprintf(w, "}\n")
	return w.Flush()
}

func (t *ReadTrx) graph(w *bufio.Writer, key uint64, level int) error {
	if level == LEVELS {
		chain, err := t.res.readChain(itemTree, key, nil)
		if err != nil {
			return err
		}
		for i, l := range chain {
			color := "green"
			if i > 0 {
				color = "palegreen"
			}
			fmt.Fprintf(w, "B%d [ fillcolor=%s label = \"leaf %d\\npopulated %d\" ];\n", l.bucket_key, color, l.bucket_key, l.Populated())
			if i > 0 {
				fmt.Fprintf(w, "B%d -> B%d [ style=dashed ];\n", chain[i-1].bucket_key, l.bucket_key)
			}
		}
		return nil
	}

	in, err := t.res.loadIndirect(itemTree, key, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "B%d [ fillcolor=red label = \"indirect %d\\nlevel %d\" ];\n", key, key, level)
	for i, child := range in.keys {
		if child == NULL_BUCKET {
			continue
		}
		fmt.Fprintf(w, "B%d -> B%d [ label = \"%d\" ];\n", key, child, i)
		if err = t.graph(w, child, level+1); err != nil {
			return err
		}
	}
	return nil
}
