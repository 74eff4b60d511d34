package model

import "time"

// Result is one stored speed measurement.
type Result struct {
	ID       int64     `json:"id"`
	Date     time.Time `json:"date"`
	Ping     float64   `json:"ping"`
	Download float64   `json:"download"`
	Upload   float64   `json:"upload"`
	Lang     string    `json:"lang"`
	Theme    string    `json:"theme"`
	Mode     *string   `json:"mode"`
}
