package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/delaneyj/draftparty/draft"
	"github.com/delaneyj/draftparty/produce"
	"github.com/dustin/go-humanize"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pelletier/go-toml/v2"
)

type scenario struct {
	Name       string `toml:"name"`
	Readers    int    `toml:"readers"`
	Fields     int    `toml:"fields"`
	Iterations int    `toml:"iterations"`
}

type benchmarkConfig struct {
	Scenarios []scenario `toml:"scenarios"`
}

var defaultScenarios = []scenario{
	{Name: "small app", Readers: 10, Fields: 10, Iterations: 10_000},
	{Name: "window exactly full", Readers: 29, Fields: 29, Iterations: 10_000},
	{Name: "past the window", Readers: 100, Fields: 100, Iterations: 5_000},
	{Name: "hot field fanout", Readers: 1_000, Fields: 10, Iterations: 1_000},
}

func main() {
	configPath := flag.String("config", "", "TOML file with benchmark scenarios")
	cpuProfile := flag.String("cpuprofile", "", "write a CPU profile to this file")
	flag.Parse()

	scenarios := defaultScenarios
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		var cfg benchmarkConfig
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			log.Fatal(err)
		}
		scenarios = cfg.Scenarios
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	log.Print("warming up")
	run(scenario{Name: "warmup", Readers: 10, Fields: 10, Iterations: 1_000}, nil)

	tbl := table.NewWriter()
	tbl.SetTitle("Draft Propagation")
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "readers", "fields", "nTimes", "avg", "p75", "p99", "max", "mutates/s"})

	for _, sc := range scenarios {
		log.Printf("running %q", sc.Name)
		run(sc, tbl)
	}
	tbl.Render()
}

func fieldName(i int) string {
	return fmt.Sprintf("f%04d", i)
}

func run(sc scenario, tbl table.Writer) {
	state := map[string]any{}
	for i := 0; i < sc.Fields; i++ {
		state[fieldName(i)] = 0
	}
	store := draft.New(state)
	if _, err := store.Mount(); err != nil {
		log.Fatal(err)
	}

	sels := make([]*draft.Selector, sc.Fields)
	for i := range sels {
		field := fieldName(i)
		sels[i] = draft.NewSelector(field, func(s any) any {
			return s.(map[string]any)[field]
		})
	}
	for i := 0; i < sc.Readers; i++ {
		sel := sels[i%len(sels)]
		if _, err := store.Subscribe(func([]any, func(draft.Recipe) error) {}, sel); err != nil {
			log.Fatal(err)
		}
	}

	tach := tachymeter.New(&tachymeter.Config{Size: sc.Iterations})
	start := time.Now()
	for i := 0; i < sc.Iterations; i++ {
		field := fieldName(i % sc.Fields)
		v := i + 1
		opStart := time.Now()
		err := store.Mutate(func(d *produce.Draft) error {
			d.Set(v, field)
			return nil
		})
		tach.AddTime(time.Since(opStart))
		if err != nil {
			log.Fatal(err)
		}
	}
	total := time.Since(start)

	if tbl == nil {
		return
	}
	calc := tach.Calc()
	rate := float64(sc.Iterations) / total.Seconds()
	tbl.AppendRows([]table.Row{
		{
			sc.Name,
			humanize.Comma(int64(sc.Readers)),
			humanize.Comma(int64(sc.Fields)),
			humanize.Comma(int64(sc.Iterations)),
			calc.Time.Avg,
			calc.Time.P75,
			calc.Time.P99,
			calc.Time.Max,
			humanize.Comma(int64(rate)),
		},
	})
}
