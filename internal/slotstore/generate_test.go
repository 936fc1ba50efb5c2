package slotstore

import (
	"testing"

	"bidding-service/internal/models"
	"bidding-service/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	s := newStore(models.InstructorSchedulingConfig{BufferTimeMinutes: 15})

	day, err := s.Generate(GenerateParams{
		Date:                 testDate,
		DayStart:             "09:00",
		DayEnd:               "12:00",
		DurationMinutes:      45,
		SessionType:          models.Individual(),
		HourlyRateIndividual: 12000,
		HourlyRateGroup:      6000,
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(day.Slots))
	for _, slot := range day.Slots {
		ids = append(ids, slot.ID)
	}
	assert.Equal(t, []string{"20261020-0900-0945", "20261020-1000-1045", "20261020-1100-1145"}, ids)
	assert.Equal(t, int64(9000), day.Slots[0].BasePriceIndividual)
	assert.Equal(t, int64(4500), day.Slots[0].BasePriceGroup)
	assert.Equal(t, 1, day.Slots[0].MaxStudents)
}

func TestGenerate_InvalidParams(t *testing.T) {
	s := newStore(models.InstructorSchedulingConfig{})

	base := GenerateParams{Date: testDate, DayStart: "09:00", DayEnd: "12:00", DurationMinutes: 60}

	bad := []GenerateParams{base, base, base, base}
	bad[0].Date = "tomorrow"
	bad[1].DayStart = "9am"
	bad[2].DayEnd = "08:00"
	bad[3].DurationMinutes = 0

	for _, p := range bad {
		_, err := s.Generate(p)
		assert.ErrorIs(t, err, response.ErrInvalidInput)
	}
}

func TestGenerate_UntilMidnight(t *testing.T) {
	s := newStore(models.InstructorSchedulingConfig{})

	day, err := s.Generate(GenerateParams{
		Date:            testDate,
		DayStart:        "22:00",
		DayEnd:          "24:00",
		DurationMinutes: 60,
		SessionType:     models.Group(4),
	})
	require.NoError(t, err)
	require.Len(t, day.Slots, 2)
	assert.Equal(t, "20261020-2300-0000", day.Slots[1].ID)
	assert.Equal(t, 4, day.Slots[1].SessionType.Capacity())
}
