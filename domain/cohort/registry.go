package cohort

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"cohortpulse/domain/core"
	"cohortpulse/internal/errors"

	"gopkg.in/yaml.v3"
)

// September2025 is the cohort the dashboard was built for.
var September2025 = Cohort{
	Name:       "September 2025",
	StartDate:  core.Date(2025, time.September, 6),
	EndDate:    core.Date(2025, time.October, 29),
	TotalWeeks: 8,
}

// Registry is an immutable name -> Cohort lookup built at startup.
type Registry struct {
	cohorts map[string]Cohort
}

// NewRegistry validates and indexes cohorts by exact name.
func NewRegistry(cohorts ...Cohort) (*Registry, error) {
	r := &Registry{cohorts: make(map[string]Cohort, len(cohorts))}
	for _, c := range cohorts {
		if err := validate(c); err != nil {
			return nil, err
		}
		if _, dup := r.cohorts[c.Name]; dup {
			return nil, errors.ConfigInvalid(fmt.Sprintf("cohort %q registered twice", c.Name))
		}
		c.StartDate = core.DateOnly(c.StartDate)
		c.EndDate = core.DateOnly(c.EndDate)
		r.cohorts[c.Name] = c
	}
	return r, nil
}

// DefaultRegistry holds only the built-in cohort.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(September2025)
	if err != nil {
		panic(err)
	}
	return r
}

func validate(c Cohort) error {
	switch {
	case c.Name == "":
		return errors.ConfigInvalid("cohort name is required")
	case c.StartDate.IsZero() || c.EndDate.IsZero():
		return errors.ConfigInvalid(fmt.Sprintf("cohort %q needs start and end dates", c.Name))
	case c.EndDate.Before(c.StartDate):
		return errors.ConfigInvalid(fmt.Sprintf("cohort %q ends before it starts", c.Name))
	case c.TotalWeeks < 1:
		return errors.ConfigInvalid(fmt.Sprintf("cohort %q needs at least one week", c.Name))
	}
	return nil
}

// Get looks a cohort up by exact name. Unknown names are NOT_FOUND errors.
func (r *Registry) Get(name string) (Cohort, error) {
	c, ok := r.cohorts[name]
	if !ok {
		return Cohort{}, errors.NotFound(fmt.Sprintf("cohort %q", name))
	}
	return c, nil
}

// Names returns registered cohort names sorted alphabetically
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.cohorts))
	for name := range r.cohorts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every cohort ordered by start date
func (r *Registry) All() []Cohort {
	all := make([]Cohort, 0, len(r.cohorts))
	for _, c := range r.cohorts {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StartDate.Equal(all[j].StartDate) {
			return all[i].Name < all[j].Name
		}
		return all[i].StartDate.Before(all[j].StartDate)
	})
	return all
}

// WeekRanges returns the week ranges of a named cohort
func (r *Registry) WeekRanges(name string) ([]WeekRange, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return CalculateWeekRanges(c), nil
}

// CurrentWeek returns the week of a named cohort containing asOf
func (r *Registry) CurrentWeek(name string, asOf time.Time) (int, error) {
	c, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return CurrentWeek(c, asOf), nil
}

// WeekRange returns one week of a named cohort
func (r *Registry) WeekRange(name string, week int) (WeekRange, error) {
	c, err := r.Get(name)
	if err != nil {
		return WeekRange{}, err
	}
	return WeekRangeFor(c, week)
}

type registryFile struct {
	Cohorts []struct {
		Name       string `yaml:"name"`
		StartDate  string `yaml:"start_date"`
		EndDate    string `yaml:"end_date"`
		TotalWeeks int    `yaml:"total_weeks"`
	} `yaml:"cohorts"`
}

// LoadRegistry reads cohorts from YAML:
//
//	cohorts:
//	  - name: September 2025
//	    start_date: 2025-09-06
//	    end_date: 2025-10-29
//	    total_weeks: 8
func LoadRegistry(r io.Reader) (*Registry, error) {
	var file registryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("parse cohort registry: %w", err))
	}

	cohorts := make([]Cohort, 0, len(file.Cohorts))
	for _, raw := range file.Cohorts {
		start, err := core.ParseDate(raw.StartDate)
		if err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("cohort %q: %w", raw.Name, err))
		}
		end, err := core.ParseDate(raw.EndDate)
		if err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("cohort %q: %w", raw.Name, err))
		}
		cohorts = append(cohorts, Cohort{Name: raw.Name, StartDate: start, EndDate: end, TotalWeeks: raw.TotalWeeks})
	}
	if len(cohorts) == 0 {
		return nil, errors.ConfigInvalid("cohort registry is empty")
	}
	return NewRegistry(cohorts...)
}

// LoadRegistryFile loads the registry from path, or returns the default
// registry when path is empty.
func LoadRegistryFile(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("open cohort registry: %w", err))
	}
	defer f.Close()
	return LoadRegistry(f)
}
