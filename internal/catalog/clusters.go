package catalog

import (
	"database/sql"

	"github.com/pointscape/pointscape/internal/errs"
)

// Cluster is one node of the project's grouping hierarchy. Clusters nest to
// arbitrary depth; a nil parent means the cluster sits at the project root.
type Cluster struct {
	ID              string
	ProjectID       string
	Name            string
	ParentClusterID *string
	CreationDate    string // ISO-8601 UTC
	Locked          bool
}

const clusterColumns = `cluster_id, project_id, name, parent_cluster_id, creation_date, is_locked`

func clusterRow(row interface{ Scan(...any) error }) (Cluster, error) {
	var cl Cluster
	var parent sql.NullString
	err := row.Scan(&cl.ID, &cl.ProjectID, &cl.Name, &parent, &cl.CreationDate, &cl.Locked)
	cl.ParentClusterID = fromNull(parent)
	return cl, err
}

// InsertCluster adds one cluster row.
func (c *Catalog) InsertCluster(cl Cluster) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(
		`INSERT INTO clusters (`+clusterColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		cl.ID, cl.ProjectID, cl.Name, nullable(cl.ParentClusterID), cl.CreationDate, cl.Locked,
	)
	return errs.Wrap(errs.CatalogError, err, "inserting cluster %s", cl.ID)
}

// DeleteCluster removes a cluster and its descendant clusters. Scans directly
// under the deleted cluster move to the project root first; scans under
// descendant clusters are re-parented by the engine's ON DELETE SET NULL when
// the cascade removes their cluster.
func (c *Catalog) DeleteCluster(clusterID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE scans SET parent_cluster_id = NULL WHERE parent_cluster_id = ?`, clusterID); err != nil {
			return errs.Wrap(errs.CatalogError, err, "re-parenting scans of cluster %s", clusterID)
		}
		res, err := tx.Exec(`DELETE FROM clusters WHERE cluster_id = ?`, clusterID)
		if err != nil {
			return errs.Wrap(errs.CatalogError, err, "deleting cluster %s", clusterID)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errs.New(errs.ClusterNotFound, "cluster %s not in catalog", clusterID)
		}
		return nil
	})
}

// GetCluster returns one cluster row by id.
func (c *Catalog) GetCluster(clusterID string) (Cluster, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := c.db.QueryRow(`SELECT `+clusterColumns+` FROM clusters WHERE cluster_id = ?`, clusterID)
	cl, err := clusterRow(row)
	if err == sql.ErrNoRows {
		return cl, errs.New(errs.ClusterNotFound, "cluster %s not in catalog", clusterID)
	}
	return cl, errs.Wrap(errs.CatalogError, err, "reading cluster %s", clusterID)
}

// GetAllClusters returns every cluster in the project.
func (c *Catalog) GetAllClusters() ([]Cluster, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryClusters(`SELECT ` + clusterColumns + ` FROM clusters ORDER BY creation_date, cluster_id`)
}

// GetChildClusters returns the clusters directly under a parent; nil selects
// clusters at the project root.
func (c *Catalog) GetChildClusters(parentID *string) ([]Cluster, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if parentID == nil {
		return c.queryClusters(`SELECT ` + clusterColumns + ` FROM clusters WHERE parent_cluster_id IS NULL ORDER BY creation_date, cluster_id`)
	}
	return c.queryClusters(`SELECT `+clusterColumns+` FROM clusters WHERE parent_cluster_id = ? ORDER BY creation_date, cluster_id`, *parentID)
}

// RenameCluster updates a cluster's display name.
func (c *Catalog) RenameCluster(clusterID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.db.Exec(`UPDATE clusters SET name = ? WHERE cluster_id = ?`, name, clusterID)
	if err != nil {
		return errs.Wrap(errs.CatalogError, err, "renaming cluster %s", clusterID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.New(errs.ClusterNotFound, "cluster %s not in catalog", clusterID)
	}
	return nil
}

// LockCluster sets or clears a cluster's locked flag.
func (c *Catalog) LockCluster(clusterID string, locked bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.db.Exec(`UPDATE clusters SET is_locked = ? WHERE cluster_id = ?`, locked, clusterID)
	if err != nil {
		return errs.Wrap(errs.CatalogError, err, "locking cluster %s", clusterID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.New(errs.ClusterNotFound, "cluster %s not in catalog", clusterID)
	}
	return nil
}

// IsClusterLocked reports the cluster's locked flag.
func (c *Catalog) IsClusterLocked(clusterID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var locked bool
	err := c.db.QueryRow(`SELECT is_locked FROM clusters WHERE cluster_id = ?`, clusterID).Scan(&locked)
	if err == sql.ErrNoRows {
		return false, errs.New(errs.ClusterNotFound, "cluster %s not in catalog", clusterID)
	}
	return locked, errs.Wrap(errs.CatalogError, err, "reading lock of cluster %s", clusterID)
}

// ClusterCount returns the number of cluster rows.
func (c *Catalog) ClusterCount() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM clusters`).Scan(&n)
	return n, errs.Wrap(errs.CatalogError, err, "counting clusters")
}

func (c *Catalog) queryClusters(query string, args ...any) ([]Cluster, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CatalogError, err, "querying clusters")
	}
	defer rows.Close()

	var clusters []Cluster
	for rows.Next() {
		cl, err := clusterRow(rows)
		if err != nil {
			return nil, errs.Wrap(errs.CatalogError, err, "scanning cluster row")
		}
		clusters = append(clusters, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.CatalogError, err, "iterating cluster rows")
	}
	return clusters, nil
}
