/*
	A fault tolerant word count pipeline with exactly-once output.

	Code Organization:

	The nodes of the pipeline and the checkpoint coordinator live in this epochflow package.
	The edge package connects nodes, the source and sink packages hold the input reader
	and the truncatable output writer, and the services packages provide storage,
	logging and statistics.

	Concepts:

	Epoch -- A consistent snapshot of the whole pipeline, identified by a contiguous ID
	and the source offset of the first record it does not cover.

	Barrier -- A marker injected by the source and carried in-band on every edge.
	A stateful node snapshots its state when the barrier reaches it and acknowledges
	the snapshot to the coordinator.

	Launch -- A single start of the pipeline. A run is the series of launches it takes
	to process the whole input. Every launch restores the latest committed epoch before
	replaying input from its offset.
*/
package epochflow
