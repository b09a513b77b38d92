package charger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/charlie0129/battprof/pkg/config"
)

func defaultProfile() Profile {
	c := config.Default()
	return ProfileFromConfig(&c)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    Mode
		modify  func(p *Profile)
		wantErr error
	}{
		{name: "defaults charge", mode: ModeCharge},
		{name: "defaults discharge", mode: ModeDischarge},
		{
			name: "precharge current above ceiling", mode: ModeCharge,
			modify:  func(p *Profile) { p.PrechargeCurrent = 1.5 },
			wantErr: ErrCurrentCeiling,
		},
		{
			name: "constant current above ceiling", mode: ModeCharge,
			modify:  func(p *Profile) { p.ConstantCurrent = 1.001 },
			wantErr: ErrCurrentCeiling,
		},
		{
			name: "end of current above ceiling", mode: ModeCharge,
			modify:  func(p *Profile) { p.EndOfCurrent = 1.2 },
			wantErr: ErrCurrentCeiling,
		},
		{
			name: "discharge current above ceiling also fails a charge run", mode: ModeCharge,
			modify:  func(p *Profile) { p.TypicalDischargeCurrent = 2 },
			wantErr: ErrCurrentCeiling,
		},
		{
			name: "current at ceiling", mode: ModeCharge,
			modify: func(p *Profile) { p.ConstantCurrent = p.MaxCurrent },
		},
		{
			name: "resistor too small", mode: ModeDischarge,
			modify:  func(p *Profile) { p.SeriesDischargeResistor = 100 },
			wantErr: ErrResistorSizing,
		},
		{
			name: "resistor too large", mode: ModeDischarge,
			modify:  func(p *Profile) { p.SeriesDischargeResistor = 1000 },
			wantErr: ErrResistorSizing,
		},
		{
			name: "resistor sizing ignored when charging", mode: ModeCharge,
			modify: func(p *Profile) { p.SeriesDischargeResistor = 1000 },
		},
		{
			name: "no resistor", mode: ModeDischarge,
			modify: func(p *Profile) { p.SeriesDischargeResistor = 0 },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultProfile()
			if tt.modify != nil {
				tt.modify(&p)
			}
			err := p.Validate(tt.mode)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDischargeSetpoint(t *testing.T) {
	p := defaultProfile()

	v, ovp := p.DischargeSetpoint()
	assert.True(t, ovp)
	assert.InDelta(t, (126.55+0.94)*0.036-3.10, v, 1e-9)

	p.SeriesDischargeResistor = 0
	v, ovp = p.DischargeSetpoint()
	assert.False(t, ovp)
	assert.InDelta(t, 3.10, v, 1e-9)
}
