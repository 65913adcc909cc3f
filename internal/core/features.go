package core

import "fmt"

// Feature channel indexes. The order is part of the classifier contract.
const (
	PacketRate = iota
	ByteRate
	AvgPktSize
	FlowDuration
	SrcIPEntropy
	SynRatio
	DistinctDstPorts
	ConcurrentConnections

	NumFeatures
)

// FeatureNames lists channel names in vector order.
var FeatureNames = [NumFeatures]string{
	"packet_rate",
	"byte_rate",
	"avg_pkt_size",
	"flow_duration",
	"src_ip_entropy",
	"syn_ratio",
	"distinct_dst_ports",
	"concurrent_connections",
}

// FeatureVector is the fixed-order numeric summary of a traffic event.
// Values are passed to the classifier untouched, NaN included.
type FeatureVector [NumFeatures]float64

// FeatureIndex returns the channel index for name.
func FeatureIndex(name string) (int, bool) {
	for i, n := range FeatureNames {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// Slice returns a copy of the vector as a slice.
func (f FeatureVector) Slice() []float64 {
	out := make([]float64, NumFeatures)
	copy(out, f[:])
	return out
}

// Map returns the vector keyed by channel name.
func (f FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, NumFeatures)
	for i, n := range FeatureNames {
		m[n] = f[i]
	}
	return m
}

// FeatureVectorFromMap builds a vector from named channels. Unknown names are
// rejected, missing channels stay zero.
func FeatureVectorFromMap(m map[string]float64) (FeatureVector, error) {
	var f FeatureVector
	for name, v := range m {
		i, ok := FeatureIndex(name)
		if !ok {
			return f, fmt.Errorf("unknown feature %q", name)
		}
		f[i] = v
	}
	return f, nil
}
