package ingest

import "testing"

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		want    *Route
		wantNil bool
	}{
		{name: "motion", topic: "sensors/bathroom-main/motion", want: &Route{Kind: "motion", SensorID: "bathroom-main"}},
		{name: "status", topic: "sensors/bathroom-main/status", want: &Route{Kind: "status", SensorID: "bathroom-main"}},
		{name: "register", topic: "sensors/bathroom-main/register", want: &Route{Kind: "register", SensorID: "bathroom-main"}},

		{name: "empty_string", topic: "", wantNil: true},
		{name: "wrong_prefix", topic: "devices/bathroom-main/motion", wantNil: true},
		{name: "unknown_kind", topic: "sensors/bathroom-main/config", wantNil: true},
		{name: "too_few_parts", topic: "sensors/motion", wantNil: true},
		{name: "too_many_parts", topic: "sensors/bathroom-main/motion/extra", wantNil: true},
		{name: "empty_sensor_id", topic: "sensors//motion", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTopic(tt.topic)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("ParseTopic(%q) = %+v, want nil", tt.topic, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseTopic(%q) = nil, want %+v", tt.topic, tt.want)
			}
			if got.Kind != tt.want.Kind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.want.Kind)
			}
			if got.SensorID != tt.want.SensorID {
				t.Errorf("SensorID = %q, want %q", got.SensorID, tt.want.SensorID)
			}
		})
	}
}
