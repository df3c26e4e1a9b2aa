package main

import "os"
import "fmt"
import "log"
import "math"
import "bytes"
import "crypto/rc4"
import "runtime/pprof"
import "encoding/binary"

import "github.com/spf13/cobra"
import "golang.org/x/sync/errgroup"
import "github.com/sebastiangraf/treetank-sub005"

var (
	stepsize   uint64
	totalsize  uint64
	valuesize  uint64
	readers    int
	cpuprofile string
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "write pseudorandom items revision by revision and verify them with concurrent readers",
	Args:  cobra.NoArgs,
	RunE:  runStress,
}

func init() {
	stressCmd.Flags().Uint64Var(&stepsize, "stepsize", 10, "every commit will include this much data in MB")
	stressCmd.Flags().Uint64Var(&totalsize, "totalsize", 500, "total this much data will be written in MB (use 0 for infinite)")
	stressCmd.Flags().Uint64Var(&valuesize, "valuesize", 512, "size of every item value in bytes")
	stressCmd.Flags().IntVarP(&readers, "concurrency", "c", 4, "number of concurrent verifying readers")
	stressCmd.Flags().StringVar(&cpuprofile, "cpuprofile", "", "write cpu profile to `file`")
}

func runStress(cmd *cobra.Command, args []string) error {
	log.Printf("Treetank stress tester")

	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	if stepsize < 1 {
		stepsize = 1
	}
	if totalsize == 0 {
		totalsize = math.MaxUint64
	}
	if stepsize > 512 {
		stepsize = 512
	}
	if stepsize > totalsize {
		stepsize = totalsize
	}
	if valuesize < 1 {
		valuesize = 1
	}
	if readers < 1 {
		readers = 1
	}

	log.Printf("Total Size (to be written): %d MB", totalsize)
	log.Printf("Commit size: %d MB", stepsize)

	res, err := openResource()
	if err != nil {
		return err
	}
	defer res.Close()

	wtx, err := res.BeginWrite()
	if err != nil {
		return err
	}
	defer wtx.Close()

	var keys_written uint64
	steps := totalsize / stepsize
	for step := uint64(0); step < steps; step++ {
		log.Printf("Running step %d    %f completed total keys %d", step, float64(step*100)/float64(steps), keys_written)
		count, err := runStep(res, wtx, step)
		if err != nil {
			return err
		}
		keys_written += count
	}
	log.Printf("Completed step %d    %f completed total keys %d", steps, float32(100), keys_written)
	return nil
}

// pseudorandom values of a step, reproducible from the step number
func stepValues(step, count uint64) []byte {
	var cryptovalue [9]byte
	binary.LittleEndian.PutUint64(cryptovalue[1:], step)
	valuecipher, _ := rc4.NewCipher(cryptovalue[:])

	value_buf := make([]byte, count*valuesize)
	valuecipher.XORKeyStream(value_buf, value_buf)
	return value_buf
}

// each step consists of generating pseudorandom data, which is first committed and then verified
// by concurrent read transactions on the new revision
func runStep(res *treetank.Resource, wtx *treetank.WriteTrx, step uint64) (uint64, error) {
	values_count := (stepsize * 1024 * 1024 / valuesize) + 1
	value_buf := stepValues(step, values_count)

	keys := make([]uint64, values_count)
	for i := range keys {
		key, err := wtx.AllocateItemKey()
		if err != nil {
			return 0, err
		}
		keys[i] = key
		value := value_buf[uint64(i)*valuesize : uint64(i+1)*valuesize]
		if err = wtx.SetItem(&treetank.BlobItem{Key: key, Value: value}); err != nil {
			return 0, err
		}
	}
	revision, err := wtx.Commit()
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	for r := 0; r < readers; r++ {
		r := r
		g.Go(func() error {
			rtx, err := res.BeginRead(revision)
			if err != nil {
				return err
			}
			defer rtx.Close()
			for i := r; i < len(keys); i += readers {
				it, found, err := rtx.Item(keys[i])
				if err != nil {
					return fmt.Errorf("err occured while verifying item %d err %w", keys[i], err)
				}
				value := value_buf[uint64(i)*valuesize : uint64(i+1)*valuesize]
				if !found || !bytes.Equal(it.(*treetank.BlobItem).Value, value) {
					return fmt.Errorf("value mismatched for item %d at revision %d", keys[i], revision)
				}
			}
			return nil
		})
	}
	return values_count, g.Wait()
}
