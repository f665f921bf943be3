package domain

import "time"

// Transport is the kind of network link the device is using.
type Transport string

const (
	TransportNone     Transport = "none"
	TransportWiFi     Transport = "wifi"
	TransportEthernet Transport = "ethernet"
	TransportCellular Transport = "cellular"
	TransportUnknown  Transport = "unknown"
)

// Generation is the cellular radio generation, empty for non-cellular links.
type Generation string

const (
	Gen2G Generation = "2g"
	Gen3G Generation = "3g"
	Gen4G Generation = "4g"
	Gen5G Generation = "5g"
)

// Quality is a coarse link-quality classification.
type Quality string

const (
	QualityPoor      Quality = "poor"
	QualityFair      Quality = "fair"
	QualityGood      Quality = "good"
	QualityExcellent Quality = "excellent"
)

// RawLink is what a platform probe reports before classification.
type RawLink struct {
	LinkUp     bool       `json:"link_up"`
	Transport  Transport  `json:"transport"`
	Generation Generation `json:"generation,omitempty"`
	Reachable  bool       `json:"reachable"`
}

// ConnectivityState is the classified, published view of the network.
type ConnectivityState struct {
	Connected  bool       `json:"connected"`
	Transport  Transport  `json:"transport"`
	Generation Generation `json:"generation,omitempty"`
	Reachable  bool       `json:"reachable"`
	Quality    Quality    `json:"quality"`
	ObservedAt time.Time  `json:"observed_at"`
}

// Classify derives a ConnectivityState from a raw observation. The result
// depends only on the link, never on history, so equal inputs classify equally.
// An unreachable backend forces Connected=false whatever the link reports.
func Classify(raw RawLink, at time.Time) ConnectivityState {
	st := ConnectivityState{
		Connected:  raw.LinkUp && raw.Reachable,
		Transport:  raw.Transport,
		Generation: raw.Generation,
		Reachable:  raw.Reachable,
		Quality:    QualityPoor,
		ObservedAt: at,
	}
	if st.Transport == "" {
		st.Transport = TransportUnknown
	}
	if !raw.LinkUp {
		st.Transport = TransportNone
		st.Generation = ""
	}
	if !st.Connected {
		return st
	}

	switch raw.Transport {
	case TransportWiFi, TransportEthernet:
		st.Quality = QualityExcellent
	case TransportCellular:
		switch raw.Generation {
		case Gen4G, Gen5G:
			st.Quality = QualityGood
		case Gen3G:
			st.Quality = QualityFair
		}
	}
	return st
}

// SameAs reports whether two states are indistinguishable to subscribers.
// ObservedAt is ignored: a re-observation of the same link is not a change.
func (s ConnectivityState) SameAs(o ConnectivityState) bool {
	return s.Connected == o.Connected &&
		s.Transport == o.Transport &&
		s.Generation == o.Generation &&
		s.Reachable == o.Reachable &&
		s.Quality == o.Quality
}
