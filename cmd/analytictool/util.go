package main

import "github.com/chronodb/analytic/internal/base"

func spaceID(v uint64) base.SpaceID { return base.SpaceID(v) }
func tableID(v uint64) base.TableID { return base.TableID(v) }
