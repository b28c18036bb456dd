// Package render turns loaded content into the artifacts the render cache
// stores: unified diffs, readme HTML and highlighted source.
//
// Every renderer has a version constant. Changing a renderer's output means
// bumping its version, which changes the cache keys and orphans the old
// entries until they are evicted.
package render
