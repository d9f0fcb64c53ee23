package ports

import (
	"io"

	"cohortpulse/domain/query"
)

// ResultExporter serializes a result table into a downloadable document
type ResultExporter interface {
	Write(w io.Writer, table *query.Table) error
	Filename() string
}
