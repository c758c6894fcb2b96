package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"traindelay/inference"
	"traindelay/ml"
)

func journeyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "train", Usage: "start from the catalogued train with this name"},
		&cli.StringFlag{Name: "train-name", Usage: "train name"},
		&cli.StringFlag{Name: "origin", Usage: "origin station"},
		&cli.StringFlag{Name: "destination", Usage: "destination station"},
		&cli.StringFlag{Name: "type", Usage: "train type", DefaultText: ml.TrainTypes[0]},
		&cli.StringFlag{Name: "zone", Usage: "railway zone", DefaultText: ml.Zones[0]},
		&cli.IntFlag{Name: "coach-count", Usage: "number of coaches (5-30)", DefaultText: "20"},
		&cli.StringFlag{Name: "pantry", Usage: "pantry car available (Yes/No)", DefaultText: "Yes"},
		&cli.StringSliceFlag{Name: "days", Usage: "days of run, e.g. Mon,Fri"},
		&cli.StringFlag{Name: "date", Usage: "journey date (YYYY-MM-DD)", DefaultText: "today"},
		&cli.StringFlag{Name: "departure", Usage: "departure time (HH:MM)", DefaultText: "12:00"},
		&cli.StringFlag{Name: "arrival", Usage: "arrival time (HH:MM)", DefaultText: "18:00"},
		&cli.StringSliceFlag{Name: "classes", Usage: "travel classes, e.g. 2A,SL"},
		&cli.IntFlag{Name: "stations", Usage: "number of stations (1-150)", DefaultText: "10"},
		&cli.Float64Flag{Name: "distance", Usage: "total distance in km", DefaultText: "1000"},
		&cli.Float64Flag{Name: "avg-platforms", Usage: "average platform count", DefaultText: "3"},
		&cli.IntFlag{Name: "min-platforms", Usage: "minimum platform count", DefaultText: "1"},
		&cli.IntFlag{Name: "max-platforms", Usage: "maximum platform count", DefaultText: "5"},
		&cli.StringSliceFlag{Name: "terrain", Usage: "terrain types, e.g. Hills,Plains"},
	}
}

// batchFlags select a CSV batch instead of a single journey.
func batchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model bundle (default from config)"},
		&cli.StringFlag{Name: "csv", Usage: "read journeys from a CSV file with training column headers"},
		&cli.StringFlag{Name: "out", Usage: "write CSV output to this file instead of stdout"},
	}
}

// applyJourneyFlags overrides base with every journey flag given on the
// command line.
func applyJourneyFlags(c *cli.Context, base ml.JourneyInput) ml.JourneyInput {
	in := base
	setString := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	setInt := func(name string, dst *int) {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	setList := func(name string, dst *[]string) {
		if c.IsSet(name) {
			*dst = c.StringSlice(name)
		}
	}
	setString("train-name", &in.TrainName)
	setString("origin", &in.Origin)
	setString("destination", &in.Destination)
	setString("type", &in.Type)
	setString("zone", &in.Zone)
	setInt("coach-count", &in.CoachCount)
	setString("pantry", &in.Pantry)
	setList("days", &in.DaysOfRun)
	setString("date", &in.Date)
	setString("departure", &in.DepartureTime)
	setString("arrival", &in.ArrivalTime)
	setList("classes", &in.Classes)
	setInt("stations", &in.NumStations)
	if c.IsSet("distance") {
		in.TotalDistance = c.Float64("distance")
	}
	if c.IsSet("avg-platforms") {
		in.AvgPlatformCount = c.Float64("avg-platforms")
	}
	setInt("min-platforms", &in.MinPlatformCount)
	setInt("max-platforms", &in.MaxPlatformCount)
	setList("terrain", &in.Terrain)
	return in
}

func (a *app) journey(c *cli.Context) (ml.JourneyInput, error) {
	base := ml.DefaultJourneyInput(time.Now())
	if name := c.String("train"); name != "" {
		if a.catalog == nil {
			return base, fmt.Errorf("--train needs catalog.path in the config")
		}
		ctx, cancel := commandContext(c, a.config.HTTP.Timeout)
		defer cancel()
		found, err := a.catalog.LookupTrain(ctx, name)
		if err != nil {
			return base, err
		}
		base = found
	}
	return applyJourneyFlags(c, base), nil
}

func predictCommand() *cli.Command {
	flags := append(batchFlags(), journeyFlags()...)
	flags = append(flags, &cli.BoolFlag{Name: "json", Usage: "print the full prediction as JSON"})
	return &cli.Command{
		Name:  "predict",
		Usage: "Predict the delay category of one journey or a CSV batch",
		Flags: flags,
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()
			predictor := a.predictor(inference.Options{})
			ctx, cancel := commandContext(c, a.config.HTTP.Timeout)
			defer cancel()

			if path := c.String("csv"); path != "" {
				records, err := readRecordsFile(path)
				if err != nil {
					return err
				}
				preds, err := predictor.PredictRecords(ctx, c.String("model"), records)
				if err != nil {
					return err
				}
				return withOutput(c, func(w io.Writer) error {
					return writePredictions(w, records, preds)
				})
			}

			in, err := a.journey(c)
			if err != nil {
				return err
			}
			pred, err := predictor.Predict(ctx, c.String("model"), in)
			if err != nil {
				return describeFieldErrors(err)
			}
			if c.Bool("json") {
				enc := json.NewEncoder(c.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(pred)
			}
			fmt.Fprintln(c.App.Writer, pred.Summary())
			return nil
		},
	}
}

func encodeCommand() *cli.Command {
	flags := append(batchFlags(), journeyFlags()...)
	flags = append(flags, &cli.StringFlag{Name: "format", Value: "json", Usage: "output format: json or csv"})
	return &cli.Command{
		Name:  "encode",
		Usage: "Print the feature table a model would receive",
		Flags: flags,
		Action: func(c *cli.Context) error {
			format := c.String("format")
			if format != "json" && format != "csv" {
				return fmt.Errorf("unknown format %q", format)
			}
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()

			var records []ml.RawRecord
			if path := c.String("csv"); path != "" {
				if records, err = readRecordsFile(path); err != nil {
					return err
				}
			} else {
				in, err := a.journey(c)
				if err != nil {
					return err
				}
				in.Normalize()
				if err := in.Validate(); err != nil {
					return describeFieldErrors(err)
				}
				records = []ml.RawRecord{in.Record()}
			}

			ctx, cancel := commandContext(c, a.config.HTTP.Timeout)
			defer cancel()
			table, err := a.predictor(inference.Options{}).Encode(ctx, c.String("model"), records)
			if err != nil {
				return err
			}
			return withOutput(c, func(w io.Writer) error {
				if format == "csv" {
					return writeTable(w, table)
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(table)
			})
		},
	}
}

func withOutput(c *cli.Context, write func(io.Writer) error) error {
	path := c.String("out")
	if path == "" {
		return write(c.App.Writer)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func describeFieldErrors(err error) error {
	fields := ml.FieldErrors(err)
	if len(fields) == 0 {
		return err
	}
	msg := "invalid input:"
	for _, f := range fields {
		msg += "\n  " + f.Error()
	}
	return cli.Exit(msg, 2)
}

func readRecordsFile(path string) ([]ml.RawRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readRecords(file)
}

// readRecords reads a CSV with training column headers. Empty cells are
// treated as missing values.
func readRecords(r io.Reader) ([]ml.RawRecord, error) {
	rows, err := gocsv.CSVToMaps(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	records := make([]ml.RawRecord, 0, len(rows))
	for _, row := range rows {
		rec := ml.RawRecord{}
		for k, v := range row {
			if v != "" {
				rec[k] = v
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

type predictionRow struct {
	Row        int     `csv:"row"`
	TrainName  string  `csv:"train_name"`
	Label      string  `csv:"predicted_delay"`
	Confidence float64 `csv:"confidence"`
}

func writePredictions(w io.Writer, records []ml.RawRecord, preds []inference.Prediction) error {
	rows := make([]*predictionRow, len(preds))
	for i, p := range preds {
		rows[i] = &predictionRow{Row: i + 1, Label: p.Label, Confidence: p.Confidence}
		if i < len(records) {
			rows[i].TrainName = records[i][ml.ColTrainName]
		}
	}
	return gocsv.Marshal(rows, w)
}

func writeTable(w io.Writer, table *ml.FeatureTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Columns); err != nil {
		return err
	}
	line := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i, v := range row {
			line[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeManifests(w io.Writer, manifests []ml.Manifest, defaultModel string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tDESCRIPTION")
	for _, m := range manifests {
		name := m.Name
		if name == defaultModel {
			name += " (default)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, m.Type, m.Description)
	}
	return tw.Flush()
}
