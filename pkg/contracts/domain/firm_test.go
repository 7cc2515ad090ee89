package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateKey(t *testing.T) {
	d := NewDateKey(time.Date(1999, time.February, 26, 15, 4, 0, 0, time.UTC))

	assert.Equal(t, DateKey(19990226), d)
	assert.Equal(t, 1999, d.Year())
	assert.Equal(t, 2, d.Month())
	assert.Equal(t, 26, d.Day())
	assert.Equal(t, "1999-02-26", d.String())
	assert.Equal(t, time.Date(1999, time.February, 26, 0, 0, 0, 0, time.UTC), d.Time())
	assert.Less(t, int(d), int(NewDateKey(time.Date(1999, time.March, 1, 0, 0, 0, 0, time.UTC))))
}

func TestIntervals(t *testing.T) {
	firm := Firm{Permno: 10001, Begin: 19900102, End: 20001229}
	assert.True(t, firm.Active(19900102))
	assert.True(t, firm.Active(20001229))
	assert.False(t, firm.Active(20001230))

	m := MembershipInterval{Permno: 10001, Start: 19950101, End: 19951231}
	assert.True(t, m.Contains(19951231))
	assert.False(t, m.Contains(19941231))

	sentinel := ClassificationInterval{Class: 5, Start: -9999, End: -9999}
	assert.True(t, sentinel.Contains(-9999))
	assert.False(t, sentinel.Contains(0))
}

func TestReturnStatus(t *testing.T) {
	for _, s := range []ReturnStatus{ReturnValid, ReturnInvalid, ReturnMissing} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, ReturnStatus("unknown").IsValid())
}
