package rag

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	vectorBlobHeaderSize = 4
	vectorValueByteSize  = 4
)

// encodeVector packs a vector as [uint32 dim][dim x float32], little-endian.
func encodeVector(vector []float32) ([]byte, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("encode vector: empty vector")
	}
	blob := make([]byte, vectorBlobHeaderSize+len(vector)*vectorValueByteSize)
	binary.LittleEndian.PutUint32(blob[:vectorBlobHeaderSize], uint32(len(vector)))

	offset := vectorBlobHeaderSize
	for i, value := range vector {
		if !isFinite(value) {
			return nil, fmt.Errorf("encode vector: invalid value at index %d", i)
		}
		binary.LittleEndian.PutUint32(blob[offset:], math.Float32bits(value))
		offset += vectorValueByteSize
	}
	return blob, nil
}

// decodeVector reverses encodeVector.
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob) < vectorBlobHeaderSize {
		return nil, fmt.Errorf("decode vector: invalid blob length %d", len(blob))
	}
	dim := int(binary.LittleEndian.Uint32(blob[:vectorBlobHeaderSize]))
	if dim <= 0 || len(blob) != vectorBlobHeaderSize+dim*vectorValueByteSize {
		return nil, fmt.Errorf("decode vector: dimension %d does not match payload of %d bytes",
			dim, len(blob)-vectorBlobHeaderSize)
	}
	vector := make([]float32, dim)
	offset := vectorBlobHeaderSize
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[offset:]))
		offset += vectorValueByteSize
	}
	return vector, nil
}

// cosineDistance returns 1 - cos(a, b), clamped to [0, 2].
func cosineDistance(a, b []float32) (float32, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("cosine distance: dimension mismatch %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		// A zero vector is orthogonal to everything.
		return 1, nil
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	cos = max(-1, min(1, cos))
	return float32(1 - cos), nil
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
