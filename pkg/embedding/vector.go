package embedding

import (
	"math"
)

// Vector holds an embedding in either raw or compressed form. Exactly one of
// Values and Quantized is set for a non-zero vector.
type Vector struct {
	Values    []float32  `json:"values,omitempty"`
	Quantized *Quantized `json:"quantized,omitempty"`
}

// Quantized is the compressed representation: each component stored as one
// byte on a linear scale between Min and Max. Logical dimensionality is
// unchanged, so compressed and raw vectors of one collection stay comparable.
type Quantized struct {
	Data []byte  `json:"data"`
	Min  float32 `json:"min"`
	Max  float32 `json:"max"`
}

// New returns a raw vector wrapping values.
func New(values []float32) Vector {
	return Vector{Values: values}
}

// IsZero reports whether the vector holds no embedding at all.
func (v Vector) IsZero() bool {
	return len(v.Values) == 0 && v.Quantized == nil
}

// Compressed reports whether the vector is stored in quantized form.
func (v Vector) Compressed() bool {
	return v.Quantized != nil
}

// Dims returns the logical dimensionality.
func (v Vector) Dims() int {
	if v.Quantized != nil {
		return len(v.Quantized.Data)
	}
	return len(v.Values)
}

// Floats returns the raw component values, decompressing transparently.
// The returned slice must not be mutated.
func (v Vector) Floats() []float32 {
	if v.Quantized == nil {
		return v.Values
	}

	q := v.Quantized
	values := make([]float32, len(q.Data))
	scale := q.Max - q.Min
	for i, b := range q.Data {
		values[i] = q.Min + float32(b)/255*scale
	}
	return values
}

// Compress returns the vector in quantized form. Compressing an already
// compressed or zero vector is a no-op.
func (v Vector) Compress() Vector {
	if v.Quantized != nil || len(v.Values) == 0 {
		return v
	}

	min, max := v.Values[0], v.Values[0]
	for _, x := range v.Values[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}

	data := make([]byte, len(v.Values))
	if scale := max - min; scale > 0 {
		for i, x := range v.Values {
			data[i] = byte(math.Round(float64((x - min) / scale * 255)))
		}
	}

	return Vector{Quantized: &Quantized{Data: data, Min: min, Max: max}}
}

// CosineSimilarity computes cosine similarity between two vectors,
// decompressing either side as needed. It returns 0.0 when either vector has
// zero norm or the dimensionalities do not match.
func CosineSimilarity(a, b Vector) float64 {
	fa, fb := a.Floats(), b.Floats()
	if len(fa) != len(fb) || len(fa) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range fa {
		dot += float64(fa[i]) * float64(fb[i])
		normA += float64(fa[i]) * float64(fa[i])
		normB += float64(fb[i]) * float64(fb[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
