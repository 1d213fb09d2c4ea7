package interfaces

// Repository defines the interface for data persistence
type Repository interface {
	Visit() VisitRepository
	Knowledge() KnowledgeRepository
	Graph() GraphRepository

	Close() error
}
