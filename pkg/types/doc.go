/*
Package types defines the core data model shared by every subsystem of the
engine: documents and their text chunks, canonical entities and the
relationships between them, the entity-type taxonomy, and the query result
shapes returned by retrieval.

All types here are plain data with validation methods. Persistence lives in
pkg/driver, behavior in the subsystem packages.
*/
package types
