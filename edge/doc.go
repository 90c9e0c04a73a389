/*
 Package edge provides mechanisms for message passing along edges.
 Several composable interfaces are defined to aid in implementing a node which consumes messages from an edge.

 Barrier messages travel in-band with data so that every node observes a
 checkpoint request at the same point relative to the records it has and has
 not consumed.
*/
package edge
