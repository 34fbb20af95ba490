package resultdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE analysis(
			id INTEGER PRIMARY KEY,
			video_path TEXT NOT NULL,
			created_at INT NOT NULL,
			summary BLOB
		);

		CREATE TABLE detection(
			id INTEGER PRIMARY KEY,
			analysis_id INT NOT NULL,
			frame INT NOT NULL,
			timestamp REAL NOT NULL,
			class TEXT NOT NULL,
			class_id INT NOT NULL,
			class_index INT NOT NULL,
			confidence REAL NOT NULL,
			x1 INT NOT NULL,
			y1 INT NOT NULL,
			x2 INT NOT NULL,
			y2 INT NOT NULL,
			track_id INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending'
		);
		CREATE INDEX idx_detection_analysis_id ON detection(analysis_id, class, class_index);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		ALTER TABLE analysis ADD COLUMN verified_at INT;
		ALTER TABLE detection ADD COLUMN roi_filtered INT NOT NULL DEFAULT 0;
	`))

	return migs
}
