package storage

import (
	"encoding/json"
	"io"
	"math"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

type ExportData struct {
	Model    string                `json:"model"`
	Method   string                `json:"method"`
	Points   int                   `json:"points"`
	Times    []float64             `json:"times"`
	Order    []string              `json:"order"`
	Series   map[string][]float64  `json:"series"`
	Response map[string][]*float64 `json:"response,omitempty"`
}

// ExportJSON writes traj and any response times as indented JSON. A
// response time that was never reached is written as null.
func ExportJSON(w io.Writer, model, method string, traj *dynamo.Trajectory, response map[string][]float64) error {
	data := ExportData{
		Model:  model,
		Method: method,
		Points: traj.Len(),
		Times:  traj.Times,
		Order:  traj.Order,
		Series: traj.Series,
	}
	if len(response) > 0 {
		data.Response = make(map[string][]*float64, len(response))
		for name, values := range response {
			out := make([]*float64, len(values))
			for i, v := range values {
				if !math.IsNaN(v) {
					out[i] = &v
				}
			}
			data.Response[name] = out
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
