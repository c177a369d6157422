package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create processes table
			CREATE TABLE processes (
				id UUID PRIMARY KEY,
				process_type VARCHAR(255) NOT NULL,
				external_id VARCHAR(255) NOT NULL DEFAULT '',
				version BIGINT NOT NULL,
				lock_expiry_date TIMESTAMP WITH TIME ZONE,
				date_created TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_processes_process_type ON processes(process_type);
			CREATE INDEX idx_processes_external_id ON processes(external_id);

			-- Create process_steps table
			CREATE TABLE process_steps (
				id UUID PRIMARY KEY,
				seq BIGSERIAL NOT NULL,
				process_id UUID NOT NULL REFERENCES processes(id) ON DELETE RESTRICT,
				process_step_type VARCHAR(255) NOT NULL,
				process_step_status VARCHAR(50) NOT NULL CHECK (
					process_step_status IN ('TODO', 'IN_PROGRESS', 'DONE', 'FAILED', 'SKIPPED', 'DUPLICATE')
				),
				date_created TIMESTAMP WITH TIME ZONE NOT NULL,
				date_last_changed TIMESTAMP WITH TIME ZONE,
				message TEXT
			);

			-- At most one open step per (process, step type)
			CREATE UNIQUE INDEX uq_process_steps_open
				ON process_steps(process_id, process_step_type)
				WHERE process_step_status IN ('TODO', 'IN_PROGRESS');

			CREATE INDEX idx_process_steps_process_id ON process_steps(process_id, seq);
			CREATE INDEX idx_process_steps_due ON process_steps(process_step_status, process_step_type, seq);

			-- Create checklist_entries table
			CREATE TABLE checklist_entries (
				external_id VARCHAR(255) NOT NULL,
				entry_type VARCHAR(100) NOT NULL,
				status VARCHAR(50) NOT NULL,
				comment TEXT NOT NULL DEFAULT '',
				date_created TIMESTAMP WITH TIME ZONE NOT NULL,
				date_last_changed TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (external_id, entry_type)
			);
		`,
	}
}
