package http

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"traindelay/inference"
	"traindelay/ml"
)

//go:embed templates/form.html
var templateFS embed.FS

var formTemplate = template.Must(template.New("form.html").Funcs(template.FuncMap{
	"has": func(values []string, v string) bool {
		for _, candidate := range values {
			if candidate == v {
				return true
			}
		}
		return false
	},
}).ParseFS(templateFS, "templates/form.html"))

type formPage struct {
	Input      ml.JourneyInput
	Models     []ml.Manifest
	Model      string
	Types      []string
	Zones      []string
	Weekdays   []string
	Classes    []string
	Terrains   []string
	Prediction *inference.Prediction
	Error      string
	Fields     []*ml.FieldError
}

func (a *api) newFormPage(in ml.JourneyInput, model string) *formPage {
	page := &formPage{
		Input:    in,
		Model:    modelOrDefault(model, a.predictor),
		Types:    ml.TrainTypes,
		Zones:    ml.Zones,
		Weekdays: ml.Weekdays,
		Classes:  ml.ClassOptions,
		Terrains: ml.TerrainOptions,
	}
	if a.models != nil {
		models, err := a.models.List()
		if err != nil {
			a.logger.Warn("list models for form", zap.Error(err))
		}
		page.Models = models
	}
	return page
}

// handleForm renders the empty form, prefilled from the catalog when a
// train name is given.
func (a *api) handleForm(w http.ResponseWriter, r *http.Request) {
	in := ml.DefaultJourneyInput(a.now())
	status := http.StatusOK
	page := a.newFormPage(in, r.URL.Query().Get("model"))

	if name := strings.TrimSpace(r.URL.Query().Get("train")); name != "" && a.catalog != nil {
		found, err := a.catalog.LookupTrain(r.Context(), name)
		if err != nil {
			status = statusFor(err)
			page.Error = "Train lookup failed: " + err.Error()
		} else {
			page.Input = found
		}
	}
	a.renderForm(w, status, page)
}

func (a *api) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, "invalid form: "+err.Error())
		return
	}
	in, err := journeyFromForm(r.PostForm)
	model := r.PostForm.Get("model")
	page := a.newFormPage(in, model)
	if err == nil {
		page.Prediction, err = a.predictor.Predict(r.Context(), model, in)
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		page.Error = "Prediction failed: " + err.Error()
		page.Fields = ml.FieldErrors(err)
	}
	a.renderForm(w, status, page)
}

func (a *api) renderForm(w http.ResponseWriter, status int, page *formPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := formTemplate.Execute(w, page); err != nil {
		a.logger.Error("render form", zap.Error(err))
	}
}

// journeyFromForm reads the form fields. Numbers that do not parse are
// reported as field errors.
func journeyFromForm(form url.Values) (ml.JourneyInput, error) {
	in := ml.JourneyInput{
		TrainName:     form.Get("train_name"),
		Origin:        form.Get("origin"),
		Destination:   form.Get("destination"),
		Type:          form.Get("type"),
		Zone:          form.Get("zone"),
		Pantry:        form.Get("pantry"),
		DaysOfRun:     form["days_of_run"],
		Date:          form.Get("date"),
		DepartureTime: form.Get("departure_time"),
		ArrivalTime:   form.Get("arrival_time"),
		Classes:       form["classes"],
		Terrain:       form["terrain"],
	}
	var err error
	in.CoachCount, err = formInt(form, "coach_count", err)
	in.NumStations, err = formInt(form, "num_stations", err)
	in.MinPlatformCount, err = formInt(form, "min_platform_count", err)
	in.MaxPlatformCount, err = formInt(form, "max_platform_count", err)
	in.TotalDistance, err = formFloat(form, "total_distance", err)
	in.AvgPlatformCount, err = formFloat(form, "avg_platform_count", err)
	return in, err
}

func formInt(form url.Values, field string, errs error) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(form.Get(field)))
	if err != nil {
		return 0, multierr.Append(errs, &ml.FieldError{Field: field, Message: "must be a whole number"})
	}
	return v, errs
}

func formFloat(form url.Values, field string, errs error) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(form.Get(field)), 64)
	if err != nil {
		return 0, multierr.Append(errs, &ml.FieldError{Field: field, Message: "must be a number"})
	}
	return v, errs
}
