package ingest

import (
	"fmt"

	"github.com/Sternrassler/endpoint-etl/pkg/record"
	"github.com/Sternrassler/endpoint-etl/pkg/registry"
)

// Task is one (endpoint, year) fetch sequence.
type Task struct {
	Spec registry.EndpointSpec
	Year int
	URL  string
}

func (t Task) String() string {
	return fmt.Sprintf("%s/%d", t.Spec.Key, t.Year)
}

// BuildTasks returns the cross product of specs and years, endpoint-major.
func BuildTasks(reg *registry.Registry, specs []registry.EndpointSpec, years record.YearRange) ([]Task, error) {
	if err := years.Validate(); err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(specs)*(years.End-years.Begin+1))
	for _, spec := range specs {
		for _, year := range years.Years() {
			u, err := reg.URL(spec.Key, year)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, Task{Spec: spec, Year: year, URL: u})
		}
	}
	return tasks, nil
}
