package store

import "database/sql"

// UpsertPeer inserts or updates a cached counterpart profile.
func (db *DB) UpsertPeer(p *Peer) error {
	_, err := db.Exec(`
		INSERT INTO peers (id, display_name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE peers.display_name END`,
		p.ID, p.DisplayName)
	return err
}

// GetPeer returns a cached peer, or nil if unknown.
func (db *DB) GetPeer(id string) (*Peer, error) {
	var p Peer
	err := db.QueryRow(`SELECT id, display_name FROM peers WHERE id = ?`, id).
		Scan(&p.ID, &p.DisplayName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
