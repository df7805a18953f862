package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/delaneyj/draftparty/optimize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

const (
	opsKey  = "ops"
	keysKey = "keys"
	seedKey = "seed"
	dumpKey = "dump"
)

func main() {
	cmd := &cli.Command{
		Name:  "simulate",
		Usage: "Hammer the selector optimizer with randomized mount/unmount traffic and verify every invariant after every operation",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  opsKey,
				Usage: "number of operations to run",
				Value: 100_000,
			},
			&cli.UintFlag{
				Name:  keysKey,
				Usage: "distinct selectors in play",
				Value: 80,
			},
			&cli.UintFlag{
				Name:  seedKey,
				Usage: "random seed",
				Value: 1,
			},
			&cli.BoolFlag{
				Name:  dumpKey,
				Usage: "print the final heap layout",
			},
		},
		Action: simulate,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func simulate(ctx context.Context, cmd *cli.Command) error {
	ops := int(cmd.Uint(opsKey))
	keyCount := int(cmd.Uint(keysKey))
	seed := int64(cmd.Uint(seedKey))

	start := time.Now()
	log.Printf("simulating %d ops over %d selectors, seed %d", ops, keyCount, seed)

	random := rand.New(rand.NewSource(seed))
	q := optimize.NewQueue()

	kk := make([]string, keyCount)
	for i := range kk {
		kk[i] = fmt.Sprintf("sel%03d", i)
	}
	counts := map[string]int{}
	tracked := []string{}

	refs, derefs := 0, 0
	for op := 0; op < ops; op++ {
		if len(tracked) == 0 || random.Float64() < 0.55 {
			k := kk[random.Intn(len(kk))]
			q.Reference(k)
			if counts[k] == 0 {
				tracked = append(tracked, k)
			}
			counts[k]++
			refs++
		} else {
			i := random.Intn(len(tracked))
			k := tracked[i]
			q.Dereference(k)
			counts[k]--
			if counts[k] == 0 {
				tracked[i] = tracked[len(tracked)-1]
				tracked = tracked[:len(tracked)-1]
			}
			derefs++
		}
		if err := q.Check(); err != nil {
			return fmt.Errorf("invariant broken after %d ops: %w", op+1, err)
		}
	}
	elapsed := time.Since(start)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{
		"ops", "refs", "derefs", "tracked", "assigned", "available", "overflow", "elapsed",
	})
	table.Append([]string{
		fmt.Sprint(ops),
		fmt.Sprint(refs),
		fmt.Sprint(derefs),
		fmt.Sprint(q.Len()),
		fmt.Sprint(q.AssignedBits()),
		fmt.Sprint(q.AvailableBits()),
		fmt.Sprint(q.OverflowLen()),
		fmt.Sprint(elapsed),
	})
	table.Render()

	if cmd.Bool(dumpKey) {
		fmt.Print(q.Dump())
	}
	log.Print("all invariants held")
	return nil
}
