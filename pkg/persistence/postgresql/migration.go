package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE chatbots (
				id VARCHAR(255) PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				mode VARCHAR(50) NOT NULL CHECK (mode IN ('workflow', 'ai')),
				workflow_id VARCHAR(255),
				greeting TEXT NOT NULL DEFAULT '',
				fallback_message TEXT NOT NULL DEFAULT '',
				system_prompt TEXT NOT NULL DEFAULT '',
				model VARCHAR(255) NOT NULL DEFAULT '',
				temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
				max_tokens INT NOT NULL DEFAULT 0,
				knowledge_base_id VARCHAR(255),
				appearance JSONB
			);

			CREATE INDEX idx_chatbots_organization_id ON chatbots(organization_id);

			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				chatbot_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				version INT NOT NULL DEFAULT 1,
				published_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_chatbot_id ON workflows(chatbot_id);

			CREATE TABLE workflow_nodes (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				position INT NOT NULL,
				node_type VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				config JSONB DEFAULT '{}',
				PRIMARY KEY (workflow_id, id)
			);

			CREATE TABLE workflow_edges (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				position INT NOT NULL,
				source_node_id VARCHAR(255) NOT NULL,
				source_handle VARCHAR(255) NOT NULL DEFAULT '',
				target_node_id VARCHAR(255) NOT NULL,
				PRIMARY KEY (workflow_id, id)
			);
		`,
		2: `
			CREATE TABLE conversations (
				id VARCHAR(255) PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				chatbot_id VARCHAR(255) NOT NULL,
				session_id VARCHAR(255) NOT NULL UNIQUE,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'waiting_for_human', 'handed_off', 'closed')),
				priority INT NOT NULL DEFAULT 0,
				tags TEXT[] NOT NULL DEFAULT '{}',
				assigned_agent_id VARCHAR(255),
				current_node_id VARCHAR(255),
				context JSONB NOT NULL DEFAULT '{}',
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_message_at TIMESTAMP WITH TIME ZONE NOT NULL,
				closed_at TIMESTAMP WITH TIME ZONE,
				CHECK (assigned_agent_id IS NULL OR status = 'handed_off')
			);

			CREATE INDEX idx_conversations_queue ON conversations(organization_id, status, priority DESC, created_at);

			CREATE TABLE messages (
				seq BIGSERIAL UNIQUE,
				id VARCHAR(255) PRIMARY KEY,
				conversation_id VARCHAR(255) NOT NULL REFERENCES conversations(id),
				role VARCHAR(50) NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
				content TEXT NOT NULL,
				node_id VARCHAR(255),
				ai JSONB,
				feedback_rating INT,
				feedback_text TEXT,
				is_from_agent BOOLEAN NOT NULL DEFAULT false,
				agent_id VARCHAR(255),
				extra JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_messages_conversation ON messages(conversation_id, created_at, seq);

			CREATE TABLE agent_availability (
				organization_id VARCHAR(255) NOT NULL,
				agent_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('available', 'busy', 'away', 'offline')),
				max_conversations INT NOT NULL CHECK (max_conversations >= 0),
				current_conversations INT NOT NULL DEFAULT 0 CHECK (current_conversations >= 0),
				skills TEXT[] NOT NULL DEFAULT '{}',
				last_assigned_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (organization_id, agent_id)
			);
		`,
		3: `
			ALTER TABLE agent_availability
				ADD CONSTRAINT agent_availability_load_within_capacity
				CHECK (current_conversations <= max_conversations);
		`,
	}
}
