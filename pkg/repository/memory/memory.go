package memory

import (
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
)

// Memory is the in-memory repository backend for development and tests.
type Memory struct {
	visit     *visitRepository
	knowledge *knowledgeRepository
	graph     *graphRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		visit:     newVisitRepository(),
		knowledge: newKnowledgeRepository(),
		graph:     newGraphRepository(),
	}
}

func (m *Memory) Visit() interfaces.VisitRepository {
	return m.visit
}

func (m *Memory) Knowledge() interfaces.KnowledgeRepository {
	return m.knowledge
}

func (m *Memory) Graph() interfaces.GraphRepository {
	return m.graph
}

func (m *Memory) Close() error {
	return nil
}
