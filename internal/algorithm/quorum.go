package algorithm

// QuorumCalculator calculates quorum requirements for a replica set
type QuorumCalculator struct{}

// NewQuorumCalculator creates a new quorum calculator
func NewQuorumCalculator() *QuorumCalculator {
	return &QuorumCalculator{}
}

// CalculateQuorum returns the number of replicas that form a majority
func (q *QuorumCalculator) CalculateQuorum(totalReplicas int) int {
	if totalReplicas <= 0 {
		return 0
	}
	return (totalReplicas / 2) + 1
}

// ReadQuorum returns the number of replicas a quorum read must agree on.
// configuredReplicas comes from the replication policy, reportedReplicas from the
// current-replica-set-size header (0 when unknown). The larger majority wins so a
// replica set that grew since the policy was read still needs a true majority.
func (q *QuorumCalculator) ReadQuorum(configuredReplicas, reportedReplicas int) int {
	quorum := q.CalculateQuorum(configuredReplicas)
	if reported := q.CalculateQuorum(reportedReplicas); reported > quorum {
		return reported
	}
	return quorum
}
