package hall

// SampleHalls are the campus halls seeded into an empty store.
func SampleHalls() []Venue {
	return []Venue{
		{
			ID:                   "north-ave",
			Name:                 "North Ave",
			Lat:                  ptr(33.7712846105461),
			Lon:                  ptr(-84.39142581349368),
			WaitTime:             "5-10 min",
			Seating:              SeatingSome,
			Status:               StatusOpen,
			VerifiedCount:        142,
			SeatingVerifiedCount: 34,
		},
		{
			ID:            "brittain",
			Name:          "Brittain",
			Lat:           ptr(33.77266789537731),
			Lon:           ptr(-84.39129365983848),
			WaitTime:      "Closed",
			Seating:       SeatingClosed,
			Status:        StatusUnknown,
			VerifiedCount: 89,
		},
		{
			ID:                   "willage",
			Name:                 "West Village",
			Lat:                  ptr(33.77982273684821),
			Lon:                  ptr(-84.40470500216735),
			WaitTime:             "5-10 min",
			Seating:              SeatingPacked,
			Status:               StatusOpen,
			VerifiedCount:        5,
			SeatingVerifiedCount: 2,
		},
	}
}
