package nvenc

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusCheck(t *testing.T) {
	if err := StatusSuccess.Check(); err != nil {
		t.Errorf("StatusSuccess.Check() = %v, want nil", err)
	}

	err := fmt.Errorf("encode picture: %w", StatusNeedMoreInput.Check())
	if !errors.Is(err, StatusNeedMoreInput) {
		t.Error("errors.Is should match StatusNeedMoreInput through wrapping")
	}
	if errors.Is(err, StatusInvalidParam) {
		t.Error("errors.Is matched the wrong status")
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusSuccess, "NV_ENC_SUCCESS"},
		{StatusNeedMoreInput, "NV_ENC_ERR_NEED_MORE_INPUT"},
		{StatusResourceNotMapped, "NV_ENC_ERR_RESOURCE_NOT_MAPPED"},
		{Status(99), "NVENCSTATUS(99)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int32(tt.status), got, tt.want)
		}
	}
}

func TestDecodeMaxVersion(t *testing.T) {
	v := decodeMaxVersion(0x81)
	if v.Major != 8 || v.Minor != 1 {
		t.Errorf("decodeMaxVersion(0x81) = %v, want 8.1", v)
	}
	if v.String() != "8.1" {
		t.Errorf("String() = %q", v.String())
	}
}

func TestAPIVersionSupports(t *testing.T) {
	tests := []struct {
		have APIVersion
		want bool
	}{
		{APIVersion{8, 1}, true},
		{APIVersion{8, 2}, true},
		{APIVersion{12, 0}, true},
		{APIVersion{8, 0}, false},
		{APIVersion{7, 9}, false},
	}
	for _, tt := range tests {
		if got := tt.have.Supports(BuiltAgainst); got != tt.want {
			t.Errorf("%v.Supports(%v) = %v, want %v", tt.have, BuiltAgainst, got, tt.want)
		}
	}
}

func TestGUIDString(t *testing.T) {
	want := "{6BC82762-4E63-4CA4-AA85-1E50F321F6BF}"
	if got := CodecH264.String(); got != want {
		t.Errorf("CodecH264.String() = %s, want %s", got, want)
	}
}

func TestPresetName(t *testing.T) {
	if got := PresetName(PresetLowLatencyHQ); got != "llhq" {
		t.Errorf("PresetName(LowLatencyHQ) = %q", got)
	}
	if got := PresetName(CodecH264); got != CodecH264.String() {
		t.Errorf("PresetName(unknown) = %q", got)
	}
}

func TestRCModeString(t *testing.T) {
	if RCTwoPassQuality.String() != "2_PASS_QUALITY" || RCConstQP.String() != "CONSTQP" {
		t.Error("unexpected RC mode names")
	}
}
