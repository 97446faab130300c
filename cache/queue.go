package cache

// QueuedItem is one pending payload in a namespace's FIFO queue.
type QueuedItem struct {
	ID      int64
	Payload []byte
}

// Enqueue appends a payload to the namespace's queue. When the queue exceeds
// limit entries the oldest rows are evicted so storage stays bounded.
func (c *Cache) Enqueue(namespace string, payload []byte, limit int) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO queue (namespace, payload) VALUES (?, ?)`, namespace, payload); err != nil {
		return err
	}
	if limit > 0 {
		_, err = tx.Exec(`DELETE FROM queue WHERE namespace = ? AND id NOT IN (
			SELECT id FROM queue WHERE namespace = ? ORDER BY id DESC LIMIT ?)`,
			namespace, namespace, limit)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Peek returns up to limit queued items in FIFO order without removing them.
func (c *Cache) Peek(namespace string, limit int) ([]QueuedItem, error) {
	rows, err := c.db.Query(`SELECT id, payload FROM queue WHERE namespace = ? ORDER BY id LIMIT ?`,
		namespace, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QueuedItem
	for rows.Next() {
		var it QueuedItem
		if err := rows.Scan(&it.ID, &it.Payload); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Ack removes a delivered item from the queue.
func (c *Cache) Ack(id int64) error {
	_, err := c.db.Exec(`DELETE FROM queue WHERE id = ?`, id)
	return err
}

// QueueLen returns the number of pending items in a namespace.
func (c *Cache) QueueLen(namespace string) (int, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM queue WHERE namespace = ?`, namespace).Scan(&n)
	return n, err
}
