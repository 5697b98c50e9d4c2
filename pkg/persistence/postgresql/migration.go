package postgresql

// migrations returns the ordered schema migrations for the journey store.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS journeys (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'draft',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_journeys_tenant_status
				ON journeys (tenant_id, status) WHERE deleted_at IS NULL;

			CREATE TABLE IF NOT EXISTS journey_triggers (
				id UUID PRIMARY KEY,
				journey_id UUID NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
				type TEXT NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				filter JSONB NOT NULL DEFAULT '{}',
				schedule JSONB,
				last_fired_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_journey_triggers_journey
				ON journey_triggers (journey_id);
			CREATE INDEX IF NOT EXISTS idx_journey_triggers_type
				ON journey_triggers (type) WHERE enabled;

			CREATE TABLE IF NOT EXISTS journey_nodes (
				id TEXT NOT NULL,
				journey_id UUID NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
				type TEXT NOT NULL,
				label TEXT NOT NULL DEFAULT '',
				config JSONB NOT NULL DEFAULT '{}',
				position_x INTEGER NOT NULL DEFAULT 0,
				position_y INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (journey_id, id)
			);

			CREATE TABLE IF NOT EXISTS journey_edges (
				id UUID PRIMARY KEY,
				journey_id UUID NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
				from_node_id TEXT NOT NULL,
				to_node_id TEXT NOT NULL,
				label TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_journey_edges_journey
				ON journey_edges (journey_id);
		`,
		2: `
			CREATE TABLE IF NOT EXISTS runs (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				journey_id UUID NOT NULL,
				lead_id TEXT,
				contact_id TEXT,
				channel_id TEXT,
				trigger_type TEXT NOT NULL,
				context JSONB NOT NULL DEFAULT '{}',
				status TEXT NOT NULL DEFAULT 'running',
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_runs_journey_created
				ON runs (journey_id, created_at DESC);

			CREATE TABLE IF NOT EXISTS run_steps (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				node_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				attempts INTEGER NOT NULL DEFAULT 0,
				scheduled_for TIMESTAMP WITH TIME ZONE,
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				message_id TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_run_steps_run
				ON run_steps (run_id);
			CREATE INDEX IF NOT EXISTS idx_run_steps_due
				ON run_steps (scheduled_for) WHERE status = 'pending' AND scheduled_for IS NOT NULL;
		`,
		3: `
			CREATE TABLE IF NOT EXISTS leads (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				phone TEXT,
				external_id TEXT,
				contact_id TEXT,
				tags JSONB NOT NULL DEFAULT '[]',
				stage TEXT,
				source TEXT,
				last_active_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_leads_tenant
				ON leads (tenant_id);

			CREATE TABLE IF NOT EXISTS contacts (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				lead_id TEXT,
				name TEXT NOT NULL DEFAULT '',
				phone TEXT,
				external_id TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS conversations (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				channel_id TEXT NOT NULL,
				external_id TEXT NOT NULL,
				lead_id TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (channel_id, external_id)
			);

			CREATE TABLE IF NOT EXISTS messages (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				conversation_id UUID NOT NULL REFERENCES conversations(id),
				channel_id TEXT NOT NULL,
				direction TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				run_id UUID,
				status TEXT NOT NULL DEFAULT 'queued',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_messages_run
				ON messages (run_id) WHERE run_id IS NOT NULL;
		`,
	}
}
