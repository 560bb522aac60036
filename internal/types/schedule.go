package types

// Schedule is a time of day (HH:MM) and the portion to dispense then.
type Schedule struct {
	ID      int64  `json:"id" yaml:"-"`
	Time    string `json:"time" yaml:"time"`
	Portion int    `json:"portion" yaml:"portion"`
}
