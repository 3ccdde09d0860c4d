/*
Package fast allows to build and execute data-flow pipelines of medical
image processing nodes.

Concept

A pipeline is a directed acyclic graph of process objects. Every process
object has typed input and output ports:

    DataPort - the output slot of a node, it has exactly one producer;
    Connection - a subscription of a consumer input to a data port;
    DataObject - the unit of data delivered through ports.

Execution is pull based. Calling Update on a node first updates all its
upstream producers, then executes the node if it was modified or any of
its inputs has pending data. Every node executes at most once per Update
call, and an Update of an unchanged pipeline is a no-op.

    source := mock.NewSource("source", 3)
    filter := mock.NewFilter("filter")
    filter.SetInputConnection(0, source.OutputPort(0))
    err := filter.Update(ctx)

Data

Data objects embed Base. A published object is frozen and is never
mutated by consumers. Objects are reference counted: the producer
reference is transferred to the port on publish, and every connection
queue entry holds its own reference. When the last reference is released
FreeAll is called on the object.

Streaming

A Streamer is a process object backed by a background loop. The first
Update starts the loop and returns once the first frame is published,
later updates of downstream nodes consume newer frames. Ports retain
frames according to the streaming mode:

    NewestFrameOnly - a newer frame replaces the unconsumed one;
    ProcessAllFrames - frames are buffered, the producer blocks when full;
    StoreAllFrames - frames are buffered without a limit.

Stop ends the loop, closes the output ports and waits for the loop to
exit. Blocked reads get ErrStreamStopped.
*/
package fast
