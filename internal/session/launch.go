package session

import (
	"net/url"
	"strings"
)

// LaunchParams are read once at startup from the launch query string.
type LaunchParams struct {
	Room string
	Seat int
}

// ParseLaunchParams reads room and p from rawQuery. The seat is 1 or 2 and
// defaults to 1 for anything else.
func ParseLaunchParams(rawQuery string) LaunchParams {
	params := LaunchParams{Seat: 1}
	values, err := url.ParseQuery(strings.TrimPrefix(rawQuery, "?"))
	if err != nil {
		return params
	}
	params.Room = strings.TrimSpace(values.Get("room"))
	if values.Get("p") == "2" {
		params.Seat = 2
	}
	return params
}

// SeatIndex returns the player index of the seat.
func (p LaunchParams) SeatIndex() int {
	return p.Seat - 1
}
