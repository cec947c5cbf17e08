package rag

// Float32ToFloat64 widens a []float32 embedding vector to []float64, the
// precision Document.Embedding and VectorStore.Search expect. Embedding
// providers returning float32 (common for on-device or quantized models)
// go through this before being stored or searched against.
func Float32ToFloat64(v []float32) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Float64ToFloat32 narrows a []float64 embedding vector to []float32, for
// handing a Document's embedding to an external system that only accepts
// float32 (many vector databases' wire formats do, to halve payload size).
func Float64ToFloat32(v []float64) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
