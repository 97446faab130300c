package store

import "time"

// Appointment is upstream delivery appointment data for a given week.
type Appointment struct {
	ID           string    `json:"id"`
	WeekOf       string    `json:"week_of"`
	CustomerName string    `json:"customer_name"`
	Phone        string    `json:"phone"`
	Address      string    `json:"address"`
	WindowLabel  string    `json:"window_label"`
	CreatedAt    time.Time `json:"created_at"`
}

// InsertAppointment adds one appointment row.
func (db *DB) InsertAppointment(a *Appointment) error {
	_, err := db.Exec(db.Q(`INSERT INTO appointments (id, week_of, customer_name, phone, address, window_label)
		VALUES (?, ?, ?, ?, ?, ?)`),
		a.ID, a.WeekOf, a.CustomerName, a.Phone, a.Address, a.WindowLabel)
	return err
}

// ListAppointmentsForWeek returns all appointments for a week.
func (db *DB) ListAppointmentsForWeek(weekOf string) ([]Appointment, error) {
	rows, err := db.Query(db.Q(`SELECT id, week_of, customer_name, phone, address, window_label, created_at
		FROM appointments WHERE week_of = ? ORDER BY customer_name`), weekOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var appts []Appointment
	for rows.Next() {
		var a Appointment
		var createdAt any
		if err := rows.Scan(&a.ID, &a.WeekOf, &a.CustomerName, &a.Phone, &a.Address, &a.WindowLabel, &createdAt); err != nil {
			return nil, err
		}
		if t := scanTimePtr(createdAt); t != nil {
			a.CreatedAt = *t
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

// AppointmentsByID returns the week's appointments keyed by ID.
func (db *DB) AppointmentsByID(weekOf string) (map[string]Appointment, error) {
	appts, err := db.ListAppointmentsForWeek(weekOf)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Appointment, len(appts))
	for _, a := range appts {
		byID[a.ID] = a
	}
	return byID, nil
}
