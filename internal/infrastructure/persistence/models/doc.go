// Package models contains the GORM models behind the order sync tables.
//
// Domain entities in internal/domain/ordersync carry no ORM tags; each model
// here has a FromDomain constructor and a ToDomain method, and repositories
// only persist models.
package models
