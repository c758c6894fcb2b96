package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"traindelay/inference"
	"traindelay/ml"
)

var fixedDay = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	models, err := filepath.Abs("models")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf("log:\n  level: error\nmodels:\n  dir: %s\n  default: baseline\n  watch: false\n", models)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"traindelay", "--config", writeTestConfig(t)}, args...))
	return out.String(), err
}

func TestPredictCommandDefaults(t *testing.T) {
	out, err := runCLI(t, "predict")
	require.NoError(t, err)
	assert.Equal(t, "Predicted Delay Category: Low\n", out)
}

func TestPredictCommandFlags(t *testing.T) {
	out, err := runCLI(t, "predict", "--departure", "06:00", "--arrival", "20:00",
		"--stations", "40", "--terrain", "hills", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"label": "Very High"`)
	assert.Contains(t, out, `"model": "baseline"`)
}

func TestPredictCommandRejectsInvalidInput(t *testing.T) {
	_, err := runCLI(t, "predict", "--pantry", "Sometimes", "--coach-count", "99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pantry")
	assert.Contains(t, err.Error(), "coach_count")
	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 2, exit.ExitCode())
}

func TestPredictCommandTrainNeedsCatalog(t *testing.T) {
	_, err := runCLI(t, "predict", "--train", "Rajdhani Express")
	assert.ErrorContains(t, err, "catalog.path")
}

func TestPredictCommandCSVBatch(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "journeys.csv")
	out := filepath.Join(dir, "predictions.csv")
	require.NoError(t, os.WriteFile(in, []byte(
		"Train Name,Departure Time,Arrival Time,Total_Distance,Num_Stations,Terrain\n"+
			"Coastal Express,08:00,11:00,300,5,\n"+
			"Night Mail,06:00,20:00,1500,40,Plains\n"), 0o644))

	stdout, err := runCLI(t, "predict", "--csv", in, "--out", out)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	var rows []*predictionRow
	require.NoError(t, gocsv.UnmarshalFile(mustOpen(t, out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Row)
	assert.Equal(t, "Coastal Express", rows[0].TrainName)
	assert.Equal(t, "No Delay", rows[0].Label)
	assert.Equal(t, "Night Mail", rows[1].TrainName)
	assert.Equal(t, "High", rows[1].Label)
	assert.Greater(t, rows[1].Confidence, 0.0)
}

func TestEncodeCommandCSV(t *testing.T) {
	out, err := runCLI(t, "encode", "--format", "csv", "--coach-count", "12")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Type,Zone,Coach Count,Is Pantry Available"))
	assert.True(t, strings.HasSuffix(lines[0], "Hills,Plains,Coastal"))
	assert.True(t, strings.HasPrefix(lines[1], "4,6,12,1,"))
}

func TestEncodeCommandRejectsFormat(t *testing.T) {
	_, err := runCLI(t, "encode", "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestModelsCommand(t *testing.T) {
	out, err := runCLI(t, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "baseline (default)")
	assert.Contains(t, out, "decision_tree")
}

func TestReadRecordsTreatsEmptyCellsAsMissing(t *testing.T) {
	records, err := readRecords(strings.NewReader("Type,Zone\nExpress,\n,NR\n"))
	require.NoError(t, err)
	assert.Equal(t, []ml.RawRecord{{"Type": "Express"}, {"Zone": "NR"}}, records)
}

func TestWritePredictions(t *testing.T) {
	var buf bytes.Buffer
	records := []ml.RawRecord{{ml.ColTrainName: "Duronto"}}
	preds := []inference.Prediction{{Label: "Medium", Confidence: 0.5}}
	require.NoError(t, writePredictions(&buf, records, preds))
	assert.Equal(t, "row,train_name,predicted_delay,confidence\n1,Duronto,Medium,0.5\n", buf.String())
}

func TestApplyJourneyFlagsOnlyOverridesGivenFlags(t *testing.T) {
	base := ml.DefaultJourneyInput(fixedDay)
	base.TrainName = "Catalogued"

	var got ml.JourneyInput
	app := &cli.App{
		Flags: journeyFlags(),
		Action: func(c *cli.Context) error {
			got = applyJourneyFlags(c, base)
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"x", "--zone", "NR", "--days", "Mon,Fri", "--distance", "250.5"}))

	want := base
	want.Zone = "NR"
	want.DaysOfRun = []string{"Mon", "Fri"}
	want.TotalDistance = 250.5
	assert.Equal(t, want, got)
}

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })
	return file
}
